package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/HershNagpal/lbms/config"
	"github.com/HershNagpal/lbms/library"
)

// Seeds the bookstore inventory from a books file and prints what the store now sells.
func main() {
	path := "books.txt"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	cfg, err := config.LoadEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	manager, err := library.NewLibraryManager(cfg, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer manager.Close()

	fmt.Printf("Importing books from %s into %s...\n", path, cfg.DBPath)
	n, err := manager.ImportBooks(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error importing books: %v\n", err)
		manager.Close()
		os.Exit(1)
	}
	fmt.Printf("Import complete: %d books read.\n", n)

	books, err := manager.StoreBooks()
	if err != nil {
		fmt.Printf("Error retrieving books: %v\n", err)
		return
	}
	fmt.Printf("\n%-14s %-50s %-30s\n", "ISBN", "Title", "Authors")
	fmt.Println(strings.Repeat("-", 96))
	for _, b := range books {
		fmt.Printf("%-14s %-50s %-30s\n", b.ISBN, truncateString(b.Title, 50), truncateString(strings.Join(b.Authors, ", "), 30))
	}
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
