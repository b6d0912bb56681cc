package validator

import (
	"fmt"
	"sort"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// walk visits m and every message reachable from it. Returning false from
// visit skips the message's children. Field order is not textual order, so
// callers sort by location.
func walk(m protoreflect.Message, visit func(protoreflect.Message) bool) {
	if !m.IsValid() || !visit(m) {
		return
	}

	m.Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
		switch {
		case fd.IsMap():
		case fd.IsList() && fd.Message() != nil:
			list := v.List()
			for i := 0; i < list.Len(); i++ {
				walk(list.Get(i).Message(), visit)
			}
		case !fd.IsList() && fd.Message() != nil:
			walk(v.Message(), visit)
		}

		return true
	})
}

// checkTables resolves every relation reference in textual order, skipping
// names defined by a WITH clause. Resolved IDs are added to seen.
func (v *Validator) checkTables(sql string, stmt *pg_query.Node, seen map[string]bool) Outcome {
	var refs []*pg_query.RangeVar

	ctes := make(map[string]bool)

	walk(stmt.ProtoReflect(), func(m protoreflect.Message) bool {
		switch n := m.Interface().(type) {
		case *pg_query.RangeVar:
			refs = append(refs, n)
		case *pg_query.CommonTableExpr:
			ctes[n.GetCtename()] = true
		}

		return true
	})

	sort.SliceStable(refs, func(i, j int) bool { return refs[i].GetLocation() < refs[j].GetLocation() })

	for _, rv := range refs {
		if rv.GetSchemaname() == "" && ctes[rv.GetRelname()] {
			continue
		}

		name := qualifiedName(rv)

		tbl, ok := v.cat.Table(name)
		if !ok {
			line, col := byteLineCol(sql, rv.GetLocation())

			return Outcome{
				Stage:      StageSchema,
				Reason:     fmt.Sprintf("relation %q does not exist", name),
				Kind:       KindTable,
				Reference:  name,
				Suggestion: nearest(name, v.cat.TableIDs()),
				Line:       line,
				Column:     col,
			}
		}

		seen[tbl.ID()] = true
	}

	return Outcome{Valid: true}
}

// qualifiedName joins the parser's names, which are already folded unless quoted
func qualifiedName(rv *pg_query.RangeVar) string {
	if rv.GetSchemaname() != "" {
		return rv.GetSchemaname() + "." + rv.GetRelname()
	}

	return rv.GetRelname()
}
