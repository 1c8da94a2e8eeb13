package library

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// publishLayouts are the date shapes accepted in a books file, most precise first.
var publishLayouts = []string{"2006-01-02", "2006-01", "2006"}

// ParseBooks reads one record per line in the form
//
//	isbn,"title",{author,author},"publisher",2006-01-02,pages
//
// Blank lines and lines starting with # are skipped.
func ParseBooks(r io.Reader) ([]BookRecord, error) {
	var books []BookRecord
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		b, err := parseBookLine(text)
		if err != nil {
			return nil, fmt.Errorf("books file line %d: %w", line, err)
		}
		books = append(books, b)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read books file: %w", err)
	}
	return books, nil
}

func parseBookLine(text string) (BookRecord, error) {
	f := splitFields(text)
	if len(f) != 6 {
		return BookRecord{}, fmt.Errorf("want 6 fields, got %d", len(f))
	}
	if f[0] == "" {
		return BookRecord{}, fmt.Errorf("missing isbn")
	}
	published, err := parsePublishDate(f[4])
	if err != nil {
		return BookRecord{}, err
	}
	pages, err := strconv.Atoi(f[5])
	if err != nil {
		return BookRecord{}, fmt.Errorf("page count %q: %w", f[5], err)
	}
	return BookRecord{
		ISBN:        f[0],
		Title:       f[1],
		Authors:     parseList(f[2]),
		Publisher:   f[3],
		PublishDate: published,
		PageCount:   pages,
	}, nil
}

func parsePublishDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range publishLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("publish date %q", s)
}
