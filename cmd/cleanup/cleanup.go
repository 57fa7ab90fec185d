// Queue maintenance tool. Lists dead-lettered notifications or a recipient's
// recent records for inspection, and wipes the notification queue (users and
// appointments are untouched) for demo resets, never for production
// processing.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/uclinic/notifyd/internal/config"
	"github.com/uclinic/notifyd/internal/domain/notification"
	pg "github.com/uclinic/notifyd/internal/repository/postgres"
)

func main() {
	cfgPath := flag.String("config", "config/notifyd.yaml", "path to config file")
	dead := flag.Bool("dead", false, "list dead-lettered notifications and exit")
	recipient := flag.Int64("recipient", 0, "list notifications for a recipient id and exit")
	limit := flag.Int("limit", 100, "max rows for list modes")
	yes := flag.Bool("yes", false, "actually delete; refuses to run without it")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := pg.New(ctx, cfg.DB)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	repo := pg.NewNotificationRepo(db)

	switch {
	case *dead:
		recs, err := repo.ListDeadLetters(ctx, *limit)
		if err != nil {
			log.Fatalf("list dead letters: %v", err)
		}
		printRecords(recs)
	case *recipient > 0:
		recs, err := repo.ListByRecipient(ctx, *recipient, *limit)
		if err != nil {
			log.Fatalf("list recipient %d: %v", *recipient, err)
		}
		printRecords(recs)
	case *yes:
		deleted, err := repo.PurgeAll(ctx)
		if err != nil {
			log.Fatalf("purge: %v", err)
		}
		log.Printf("notifications deleted: %d", deleted)
	default:
		log.Println("refusing to wipe notifications without -yes (use -dead or -recipient to inspect)")
		os.Exit(1)
	}
}

func printRecords(recs []*notification.Notification) {
	for _, n := range recs {
		line := fmt.Sprintf("%d\t%s\t%s\trecipient=%d\tappointment=%d\tattempts=%d\tscheduled=%s",
			n.ID, n.Status, n.Kind, n.RecipientID, n.AppointmentID, n.Attempts,
			n.ScheduledFor.Format(time.RFC3339))
		if n.LastError != "" {
			line += "\terror=" + n.LastError
		}
		fmt.Println(line)
	}
	log.Printf("rows: %d", len(recs))
}
