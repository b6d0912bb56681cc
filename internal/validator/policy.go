package validator

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// allowed applies the statement-kind policy. Reads are always allowed; data
// modification only with allowWrites; everything else (DDL, utility
// statements, SELECT INTO) never.
func allowed(stmt *pg_query.Node, allowWrites bool) (string, bool) {
	kind := statementKind(stmt)

	switch {
	case kind == "":
		return fmt.Sprintf("%s: %s", ReasonKindNotAllowed, nodeName(stmt)), false
	case isWrite(stmt) && !allowWrites:
		return fmt.Sprintf("%s: %s (writes are disabled)", ReasonKindNotAllowed, kind), false
	}

	return "", true
}

// statementKind names supported statements and returns "" for the rest
func statementKind(stmt *pg_query.Node) string {
	switch {
	case stmt.GetSelectStmt() != nil:
		if stmt.GetSelectStmt().GetIntoClause() != nil {
			return ""
		}

		return "SELECT"
	case stmt.GetInsertStmt() != nil:
		return "INSERT"
	case stmt.GetUpdateStmt() != nil:
		return "UPDATE"
	case stmt.GetDeleteStmt() != nil:
		return "DELETE"
	case stmt.GetMergeStmt() != nil:
		return "MERGE"
	case stmt.GetExplainStmt() != nil:
		if statementKind(stmt.GetExplainStmt().GetQuery()) == "" {
			return ""
		}

		return "EXPLAIN"
	default:
		return ""
	}
}

// isWrite reports whether executing stmt could modify data, including
// data-modifying CTEs and EXPLAIN of a write.
func isWrite(stmt *pg_query.Node) bool {
	switch {
	case stmt.GetInsertStmt() != nil, stmt.GetUpdateStmt() != nil,
		stmt.GetDeleteStmt() != nil, stmt.GetMergeStmt() != nil:
		return true
	case stmt.GetExplainStmt() != nil:
		return isWrite(stmt.GetExplainStmt().GetQuery())
	case stmt.GetSelectStmt() != nil:
		return selectWrites(stmt.GetSelectStmt())
	default:
		return false
	}
}

func selectWrites(sel *pg_query.SelectStmt) bool {
	if sel == nil {
		return false
	}

	for _, cte := range sel.GetWithClause().GetCtes() {
		if isWrite(cte.GetCommonTableExpr().GetCtequery()) {
			return true
		}
	}

	return selectWrites(sel.GetLarg()) || selectWrites(sel.GetRarg())
}

// nodeName turns the node's Go type into a statement name, e.g. CreateStmt
func nodeName(stmt *pg_query.Node) string {
	if stmt == nil || stmt.GetNode() == nil {
		return "empty statement"
	}

	name := fmt.Sprintf("%T", stmt.GetNode())
	if i := strings.LastIndex(name, "_"); i >= 0 {
		name = name[i+1:]
	}

	return name
}
