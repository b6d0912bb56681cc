package formatter

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kyleking/sqlrag/internal/catalog"
	"github.com/kyleking/sqlrag/internal/pipeline"
	"github.com/kyleking/sqlrag/internal/repair"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatLong  OutputFormat = "long"
	FormatShort OutputFormat = "short"
	FormatJSON  OutputFormat = "json"
)

// ParseFormat maps a flag value onto an OutputFormat, defaulting to short
func ParseFormat(s string) OutputFormat {
	switch OutputFormat(strings.ToLower(strings.TrimSpace(s))) {
	case FormatLong:
		return FormatLong
	case FormatJSON:
		return FormatJSON
	default:
		return FormatShort
	}
}

// Formatter handles command output formatting
type Formatter struct {
	now func() time.Time
}

// NewFormatter creates a new formatter instance
func NewFormatter() *Formatter {
	return &Formatter{now: time.Now}
}

// FormatAnswer formats an accepted answer. The short form is only the SQL so
// it can be piped into psql.
func (f *Formatter) FormatAnswer(answer *pipeline.Answer, format OutputFormat) string {
	switch format {
	case FormatJSON:
		return f.formatJSON(answer)
	case FormatLong:
		return f.formatAnswerLong(answer)
	default:
		return answer.SQL
	}
}

func (f *Formatter) formatAnswerLong(answer *pipeline.Answer) string {
	var lines []string

	lines = append(lines, answer.SQL, "")
	lines = append(lines, "Question: "+answer.Question)
	lines = append(lines, "Tables: "+orDash(strings.Join(answer.Tables, ", ")))
	lines = append(lines, "Retrieved: "+orDash(strings.Join(answer.Retrieved, ", ")))

	if len(answer.Dropped) > 0 {
		lines = append(lines, "Dropped for budget: "+strings.Join(answer.Dropped, ", "))
	}

	lines = append(lines, "Template: "+answer.Template)
	lines = append(lines, fmt.Sprintf("Attempts: %d", answer.Attempts))
	lines = append(lines, "Model: "+orDash(answer.Model))
	lines = append(lines, "Catalog: "+shortHash(answer.CatalogHash))
	lines = append(lines, "Duration: "+answer.Duration.Round(time.Millisecond).String())

	if answer.Attempts > 1 {
		lines = append(lines, "", "Repairs:")
		lines = append(lines, f.formatTrail(answer.Trail)...)
	}

	return strings.Join(lines, "\n")
}

// FormatRejection explains why no valid SQL was produced
func (f *Formatter) FormatRejection(rejection *repair.Rejection, format OutputFormat) string {
	if format == FormatJSON {
		return f.formatJSON(rejection)
	}

	var lines []string

	lines = append(lines, fmt.Sprintf("No valid SQL after %d attempt(s) for: %s", rejection.Attempts, rejection.Question))

	if format == FormatLong && rejection.LastSQL != "" {
		lines = append(lines, "", "Last candidate:", rejection.LastSQL)
	}

	lines = append(lines, "")
	lines = append(lines, f.formatTrail(rejection.Trail)...)

	return strings.Join(lines, "\n")
}

func (f *Formatter) formatTrail(trail []repair.Attempt) []string {
	lines := make([]string, 0, len(trail))

	for _, a := range trail {
		line := fmt.Sprintf("  %d. %s", a.Number, a.Final())

		switch {
		case a.Outcome.Reason != "":
			line += ": " + a.Outcome.Reason
		case a.Error != "":
			line += ": " + a.Error
		}

		lines = append(lines, line)

		if a.Outcome.Suggestion != "" {
			lines = append(lines, fmt.Sprintf("     did you mean %s instead of %s?", a.Outcome.Suggestion, a.Outcome.Reference))
		}

		if len(a.Outcome.OwnerTables) > 0 {
			lines = append(lines, "     column exists on: "+strings.Join(a.Outcome.OwnerTables, ", "))
		}
	}

	return lines
}

// FormatRefresh summarizes an index refresh
func (f *Formatter) FormatRefresh(res *pipeline.RefreshResult, format OutputFormat) string {
	if format == FormatJSON {
		return f.formatJSON(res)
	}

	state := "unchanged"
	if res.Changed {
		state = "updated"
	}

	line := fmt.Sprintf("Index %s: %d tables, %d units, catalog %s (source: %s, %s)",
		state, res.Tables, res.Units, shortHash(res.CatalogHash), res.Source, res.Duration.Round(time.Millisecond))

	if format == FormatLong {
		line += "\nProvider: " + res.Provider
	}

	return line
}

// FormatSnapshot describes the index currently being served
func (f *Formatter) FormatSnapshot(snap *pipeline.Snapshot, format OutputFormat) string {
	if snap == nil {
		return "No index loaded"
	}

	meta := snap.Index.Metadata()

	if format == FormatJSON {
		return f.formatJSON(map[string]any{
			"catalog_hash": snap.Hash(),
			"source":       snap.Source,
			"loaded_at":    snap.LoadedAt,
			"provider":     meta.Provider,
			"tables":       snap.Catalog.TableIDs(),
			"units":        snap.Index.Len(),
		})
	}

	lines := []string{
		"Catalog: " + snap.Hash(),
		fmt.Sprintf("Tables: %d", snap.Catalog.Len()),
		fmt.Sprintf("Units: %d", snap.Index.Len()),
		"Provider: " + meta.Provider,
		"Source: " + snap.Source,
		"Loaded: " + f.humanizeAge(snap.LoadedAt),
	}

	if format == FormatLong {
		lines = append(lines, "", "Tables:")
		for _, id := range snap.Catalog.TableIDs() {
			lines = append(lines, "  "+id)
		}
	}

	return strings.Join(lines, "\n")
}

// FormatTable renders one catalog table
func (f *Formatter) FormatTable(tbl catalog.Table, format OutputFormat) string {
	if format == FormatJSON {
		return f.formatJSON(tbl)
	}

	if format == FormatShort {
		return fmt.Sprintf("%s (%s)", tbl.ID(), strings.Join(tbl.ColumnNames(), ", "))
	}

	lines := []string{tbl.ID()}

	for _, col := range tbl.Columns {
		var notes []string
		if col.PrimaryKey {
			notes = append(notes, "primary key")
		}

		if col.References != "" {
			ref := col.References
			if col.ReferencesColumn != "" {
				ref += "." + col.ReferencesColumn
			}

			notes = append(notes, "references "+ref)
		}

		if col.Nullable {
			notes = append(notes, "nullable")
		}

		line := fmt.Sprintf("  %s %s", col.Name, col.Type)
		if len(notes) > 0 {
			line += "  (" + strings.Join(notes, ", ") + ")"
		}

		lines = append(lines, line)
	}

	return strings.Join(lines, "\n")
}

func (f *Formatter) formatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}

	return string(data)
}

// humanizeAge converts a time to a human-readable age string
func (f *Formatter) humanizeAge(t time.Time) string {
	if t.IsZero() {
		return "?"
	}

	duration := f.now().Sub(t)

	switch {
	case duration < time.Minute:
		return "just now"
	case duration < time.Hour:
		minutes := int(duration.Minutes())
		if minutes == 1 {
			return "1 minute ago"
		}

		return fmt.Sprintf("%d minutes ago", minutes)
	case duration < 24*time.Hour:
		hours := int(duration.Hours())
		if hours == 1 {
			return "1 hour ago"
		}

		return fmt.Sprintf("%d hours ago", hours)
	}

	days := int(duration.Hours() / 24)
	if days == 1 {
		return "1 day ago"
	}

	return fmt.Sprintf("%d days ago", days)
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}

	return orDash(h)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}

	return s
}
