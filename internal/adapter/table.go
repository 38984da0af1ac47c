package adapter

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/AlfaStage/jogodobicho-api-sub000/internal/store"
)

// TableAdapter is a generic extractor for providers that publish each draw
// as an HTML table headed by its HH:MM slot. It covers the common provider
// layout; providers with exotic markup get their own Adapter.
type TableAdapter struct {
	key string
}

// NewTableAdapter creates a table extractor for the given provider key.
func NewTableAdapter(key string) *TableAdapter {
	return &TableAdapter{key: key}
}

func (t *TableAdapter) Key() string { return t.key }

var (
	valueRe = regexp.MustCompile(`^\d{3,6}(-\d)?$`)
	groupRe = regexp.MustCompile(`^\d{1,2}$`)
)

// Extract scans the document for one result table per due slot. A table
// matches a slot when its caption, or the nearest preceding heading,
// contains the slot time.
func (t *TableAdapter) Extract(doc *Document, due []DueSlot) ([]Record, error) {
	var records []Record
	for _, d := range due {
		if !doc.ContainsSlot(d.Slot) {
			continue
		}
		prizes := t.slotTable(doc, d.Slot)
		if len(prizes) == 0 {
			continue
		}
		records = append(records, Record{
			EntityID: d.EntityID,
			Slot:     d.Slot,
			DrawDate: d.DrawDate,
			Prizes:   prizes,
		})
	}
	return records, nil
}

// slotTable finds the table associated with a slot and parses its rows.
func (t *TableAdapter) slotTable(doc *Document, slot string) []store.PrizeEntry {
	var out []store.PrizeEntry
	doc.Find("table").EachWithBreak(func(_ int, tbl *goquery.Selection) bool {
		if !tableMatchesSlot(tbl, slot) {
			return true
		}
		out = parseRows(tbl)
		return len(out) == 0
	})
	return out
}

// tableMatchesSlot checks the caption and the nearest preceding heading for
// the slot time.
func tableMatchesSlot(tbl *goquery.Selection, slot string) bool {
	if strings.Contains(tbl.Find("caption").Text(), slot) {
		return true
	}
	head := tbl.PrevAllFiltered("h1, h2, h3, h4, .title").First()
	return strings.Contains(head.Text(), slot)
}

func parseRows(tbl *goquery.Selection) []store.PrizeEntry {
	var prizes []store.PrizeEntry
	tbl.Find("tr").Each(func(i int, row *goquery.Selection) {
		var cells []string
		row.Find("td").Each(func(_ int, td *goquery.Selection) {
			cells = append(cells, strings.TrimSpace(td.Text()))
		})
		entry, ok := parseRow(cells, len(prizes)+1)
		if ok {
			prizes = append(prizes, entry)
		}
	})
	return prizes
}

// parseRow interprets one table row as a prize line. Rows without a value
// cell (headers, separators) are skipped.
func parseRow(cells []string, defaultPos int) (store.PrizeEntry, bool) {
	entry := store.PrizeEntry{Position: defaultPos}
	var valueSeen bool
	for _, c := range cells {
		c = strings.ReplaceAll(c, ".", "")
		switch {
		case !valueSeen && parsePosition(c) > 0 && len(prefixDigits(c)) <= 2:
			entry.Position = parsePosition(c)
		case !valueSeen && valueRe.MatchString(c):
			entry.Value = c
			valueSeen = true
		case valueSeen && entry.Group == "" && groupRe.MatchString(c):
			entry.Group = c
		case valueSeen && c != "" && !groupRe.MatchString(c):
			entry.Label = c
		}
	}
	return entry, valueSeen
}

// parsePosition reads a leading ordinal like "1", "1º", or "1°".
func parsePosition(c string) int {
	d := prefixDigits(c)
	if d == "" {
		return 0
	}
	rest := strings.TrimSpace(strings.TrimPrefix(c, d))
	if rest != "" && rest != "º" && rest != "°" && !strings.EqualFold(rest, "o") {
		return 0
	}
	n, _ := strconv.Atoi(d)
	return n
}

func prefixDigits(c string) string {
	for i, r := range c {
		if r < '0' || r > '9' {
			return c[:i]
		}
	}
	return c
}
