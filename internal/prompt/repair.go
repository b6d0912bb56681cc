package prompt

import (
	"fmt"
	"strings"
)

// Correction describes why a generated statement was refused
type Correction struct {
	SQL         string   `json:"sql"`
	Reason      string   `json:"reason"`
	Reference   string   `json:"reference,omitempty"`
	Suggestion  string   `json:"suggestion,omitempty"`
	OwnerTables []string `json:"owner_tables,omitempty"`
}

// RepairPrompt appends the refused statement and its error to the original
// prompt so the model can correct it. The repair prompt is not re-budgeted:
// the correction must reach the model even when the original filled the budget.
func RepairPrompt(ctx *Context, c Correction) string {
	var b strings.Builder

	b.WriteString(ctx.Text)

	if sql := strings.TrimSpace(c.SQL); sql != "" {
		b.WriteString("\nYOUR PREVIOUS ANSWER:\n```sql\n")
		b.WriteString(sql)
		b.WriteString("\n```\n")
	} else {
		b.WriteString("\nYOUR PREVIOUS ANSWER CONTAINED NO SQL STATEMENT.\n")
	}

	b.WriteString("\nIT WAS REJECTED:\n")
	b.WriteString(c.Reason)
	b.WriteString("\n")

	if c.Suggestion != "" && c.Reference != "" {
		fmt.Fprintf(&b, "Did you mean %s instead of %s?\n", c.Suggestion, c.Reference)
	}

	if len(c.OwnerTables) > 0 {
		fmt.Fprintf(&b, "Column %s exists on: %s. Join or qualify through one of these tables.\n",
			c.Reference, strings.Join(c.OwnerTables, ", "))
	}

	b.WriteString("\nReturn a corrected statement that follows every rule above.\n")

	return b.String()
}
