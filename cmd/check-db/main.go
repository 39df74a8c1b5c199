// Package main is a diagnostic tool for testing database connectivity and
// inspecting live data. It connects to the database, summarises the users,
// families, and admin_claims tables, and prints the result to stdout. The
// binary exits with a non-zero code on any failure so it can be embedded in
// health checks or CI/CD pipeline steps to gate deployments on a reachable,
// populated database.
package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"
)

func main() {
	dbPassword := os.Getenv("DATABASE_PASSWORD")
	if dbPassword == "" {
		dbPassword = "heirloom"
	}

	connStr := fmt.Sprintf("host=localhost port=5432 user=heirloom password=%s dbname=heirloom sslmode=disable", dbPassword)
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer db.Close()

	var users, families int
	if err := db.QueryRow("SELECT COUNT(*) FROM users").Scan(&users); err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	if err := db.QueryRow("SELECT COUNT(*) FROM families").Scan(&families); err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	fmt.Printf("users: %d\nfamilies: %d\n", users, families)

	// Orphaned families are the ones the claim workflow exists for
	var orphaned int
	err = db.QueryRow(`
		SELECT COUNT(*)
		FROM families f
		WHERE NOT EXISTS (
			SELECT 1 FROM family_members fm
			WHERE fm.family_id = f.id AND fm.role = 'admin' AND fm.status = 'active'
		)
	`).Scan(&orphaned)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	fmt.Printf("orphaned families: %d\n", orphaned)

	fmt.Println("=== CLAIMS BY STATUS ===")
	rows, err := db.Query("SELECT status, COUNT(*) FROM admin_claims GROUP BY status ORDER BY status")
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			log.Fatalf("Scan failed: %v", err)
		}
		fmt.Printf("  %-10s %d\n", status, count)
	}
	if err := rows.Err(); err != nil {
		log.Fatalf("Rows error: %v", err)
	}
}
