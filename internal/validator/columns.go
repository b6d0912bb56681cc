package validator

import (
	"fmt"
	"sort"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/kyleking/sqlrag/internal/catalog"
)

const unnamedOutput = "?column?"

// relation is one FROM item as seen by column resolution. A nil column set
// means the columns cannot be known (unknown tables, "*" outputs) and any name
// is accepted.
type relation struct {
	name    string
	tableID string
	// aliased hides the table name, so only name can qualify its columns
	aliased bool
	columns map[string]bool
	order   []string
}

func newRelation(name, tableID string, columns []string) *relation {
	r := &relation{name: name, tableID: tableID}
	r.setColumns(columns)

	return r
}

func (r *relation) setColumns(columns []string) {
	r.columns, r.order = nil, nil

	for _, c := range columns {
		if c == "*" {
			return
		}
	}

	r.columns = make(map[string]bool, len(columns))
	for _, c := range columns {
		if !r.columns[c] {
			r.columns[c] = true
			r.order = append(r.order, c)
		}
	}
}

func (r *relation) has(column string) bool {
	return r.columns == nil || r.columns[column]
}

// scope is one query level. ctes holds WITH definitions visible here.
type scope struct {
	parent    *scope
	relations []*relation
	outputs   map[string]bool
	ctes      map[string]*relation
}

func newScope(parent *scope) *scope {
	return &scope{parent: parent, outputs: make(map[string]bool), ctes: make(map[string]*relation)}
}

// detached returns a scope that sees the WITH definitions of s but none of its
// FROM items, as a non-lateral subquery does.
func (s *scope) detached() *scope {
	d := newScope(s.parent)
	d.ctes = s.ctes

	return d
}

func (s *scope) cte(name string) (*relation, bool) {
	for sc := s; sc != nil; sc = sc.parent {
		if r, ok := sc.ctes[name]; ok {
			return r, true
		}
	}

	return nil, false
}

type columnRef struct {
	location int32
	fields   []string
	scope    *scope
	// target is set for INSERT column lists and UPDATE SET targets
	target *relation
	// outputs allows the select-list names of the ref's own query level, as
	// in GROUP BY, HAVING and ORDER BY
	outputs bool
}

// resolver walks one statement, building scopes and collecting column refs
type resolver struct {
	cat          *catalog.Catalog
	refs         []columnRef
	allowOutputs bool
}

func (v *Validator) checkColumns(sql string, stmt *pg_query.Node, opts Options) Outcome {
	r := &resolver{cat: v.cat}
	r.statement(stmt, nil)

	sort.SliceStable(r.refs, func(i, j int) bool { return r.refs[i].location < r.refs[j].location })

	for _, ref := range r.refs {
		if o := r.check(ref, opts); !o.Valid {
			o.Line, o.Column = byteLineCol(sql, ref.location)
			return o
		}
	}

	return Outcome{Valid: true}
}

// statement walks any supported statement and returns its output column names
func (r *resolver) statement(n *pg_query.Node, parent *scope) []string {
	prev := r.allowOutputs
	r.allowOutputs = false

	defer func() { r.allowOutputs = prev }()

	switch {
	case n.GetSelectStmt() != nil:
		return r.selectStmt(n.GetSelectStmt(), parent)
	case n.GetInsertStmt() != nil:
		return r.insertStmt(n.GetInsertStmt(), parent)
	case n.GetUpdateStmt() != nil:
		return r.updateStmt(n.GetUpdateStmt(), parent)
	case n.GetDeleteStmt() != nil:
		return r.deleteStmt(n.GetDeleteStmt(), parent)
	case n.GetExplainStmt() != nil:
		return r.statement(n.GetExplainStmt().GetQuery(), parent)
	default:
		return []string{"*"}
	}
}

func (r *resolver) selectStmt(sel *pg_query.SelectStmt, parent *scope) []string {
	if sel == nil {
		return nil
	}

	prev := r.allowOutputs
	r.allowOutputs = false

	defer func() { r.allowOutputs = prev }()

	s := newScope(parent)
	r.withClause(sel.GetWithClause(), s)

	if sel.GetOp() != pg_query.SetOperation_SETOP_NONE {
		left := r.selectStmt(sel.GetLarg(), s)
		r.selectStmt(sel.GetRarg(), s)

		for _, o := range left {
			s.outputs[o] = true
		}

		r.outputExprs(s, sel.GetSortClause()...)
		r.exprs(s, sel.GetLimitCount(), sel.GetLimitOffset())

		return left
	}

	if lists := sel.GetValuesLists(); len(lists) > 0 {
		r.exprs(s, lists...)

		width := len(lists[0].GetList().GetItems())
		outputs := make([]string, width)

		for i := range outputs {
			outputs[i] = fmt.Sprintf("column%d", i+1)
		}

		return outputs
	}

	for _, item := range sel.GetFromClause() {
		r.fromItem(item, s)
	}

	outputs := r.targets(sel.GetTargetList(), s)
	for _, o := range outputs {
		s.outputs[o] = true
	}

	r.exprs(s, sel.GetWhereClause(), sel.GetLimitCount(), sel.GetLimitOffset())
	r.outputExprs(s, sel.GetHavingClause())
	r.outputExprs(s, sel.GetGroupClause()...)
	r.outputExprs(s, sel.GetWindowClause()...)
	r.outputExprs(s, sel.GetSortClause()...)
	r.outputExprs(s, sel.GetDistinctClause()...)

	return outputs
}

func (r *resolver) withClause(w *pg_query.WithClause, s *scope) {
	for _, n := range w.GetCtes() {
		cte := n.GetCommonTableExpr()
		if cte == nil {
			continue
		}

		rel := newRelation(cte.GetCtename(), "", nil)
		aliased := names(cte.GetAliascolnames())

		if len(aliased) > 0 {
			rel.setColumns(aliased)
		}

		if w.GetRecursive() {
			// The recursive term refers to the CTE before its columns are known.
			if len(aliased) == 0 {
				rel.columns = nil
			}

			s.ctes[rel.name] = rel
		}

		outputs := r.statement(cte.GetCtequery(), s)
		if len(aliased) == 0 {
			rel.setColumns(outputs)
		}

		s.ctes[rel.name] = rel
	}
}

func (r *resolver) fromItem(n *pg_query.Node, s *scope) {
	switch {
	case n.GetRangeVar() != nil:
		s.relations = append(s.relations, r.rangeVar(n.GetRangeVar(), s))
	case n.GetRangeSubselect() != nil:
		sub := n.GetRangeSubselect()

		inner := s.detached()
		if sub.GetLateral() {
			inner = s
		}

		outputs := r.statement(sub.GetSubquery(), inner)
		if cols := names(sub.GetAlias().GetColnames()); len(cols) > 0 {
			outputs = cols
		}

		rel := newRelation(sub.GetAlias().GetAliasname(), "", outputs)
		rel.aliased = true
		s.relations = append(s.relations, rel)
	case n.GetRangeFunction() != nil:
		fn := n.GetRangeFunction()
		r.exprs(s, fn.GetFunctions()...)

		alias := fn.GetAlias().GetAliasname()

		name := alias
		if name == "" {
			name = functionName(fn)
		}

		cols := names(fn.GetAlias().GetColnames())
		if len(cols) == 0 {
			cols = functionColumns(fn, alias)
		}

		s.relations = append(s.relations, newRelation(name, "", cols))
	case n.GetJoinExpr() != nil:
		r.joinExpr(n.GetJoinExpr(), s)
	default:
		r.exprs(s, n)
	}
}

// joinExpr resolves both inputs in a child scope so the ON clause sees them.
// An aliased join hides its inputs behind one relation with their columns.
func (r *resolver) joinExpr(join *pg_query.JoinExpr, s *scope) {
	js := newScope(s)

	r.fromItem(join.GetLarg(), js)
	split := len(js.relations)
	r.fromItem(join.GetRarg(), js)

	left, right := js.relations[:split], js.relations[split:]

	for _, col := range names(join.GetUsingClause()) {
		for _, side := range [][]*relation{left, right} {
			r.refs = append(r.refs, columnRef{
				location: firstLocation(join.GetRarg()),
				fields:   []string{col},
				scope:    js,
				target:   unionRelation(side),
			})
		}
	}

	r.exprs(js, join.GetQuals())

	alias := join.GetAlias()
	if alias.GetAliasname() == "" {
		s.relations = append(s.relations, js.relations...)
		return
	}

	joined := unionRelation(js.relations)
	joined.name, joined.tableID, joined.aliased = alias.GetAliasname(), "", true

	if cols := names(alias.GetColnames()); len(cols) > 0 {
		joined.setColumns(renameColumns(joined, cols))
	}

	s.relations = append(s.relations, joined)
}

// unionRelation merges the columns of rels. A single catalog table keeps its
// identity so errors can name it.
func unionRelation(rels []*relation) *relation {
	u := &relation{}
	if len(rels) == 1 {
		u.name, u.tableID = rels[0].name, rels[0].tableID
	}

	var cols []string

	for _, rel := range rels {
		if rel.columns == nil {
			cols = append(cols, "*")
		}

		cols = append(cols, rel.order...)
	}

	u.setColumns(cols)

	return u
}

// renameColumns applies a column alias list: renamed columns hide the
// originals and trailing ones keep their names
func renameColumns(rel *relation, cols []string) []string {
	renamed := append([]string{}, cols...)
	if len(rel.order) > len(cols) {
		renamed = append(renamed, rel.order[len(cols):]...)
	}

	if rel.columns == nil {
		renamed = append(renamed, "*")
	}

	return renamed
}

func firstLocation(n *pg_query.Node) int32 {
	var loc int32 = -1

	walk(n.ProtoReflect(), func(m protoreflect.Message) bool {
		if rv, ok := m.Interface().(*pg_query.RangeVar); ok && loc < 0 {
			loc = rv.GetLocation()
		}

		return loc < 0
	})

	if loc < 0 {
		return 0
	}

	return loc
}

// rangeVar resolves a FROM table to a CTE or catalog table
func (r *resolver) rangeVar(rv *pg_query.RangeVar, s *scope) *relation {
	name := rv.GetRelname()
	alias := rv.GetAlias().GetAliasname()

	if alias != "" {
		name = alias
	}

	var rel *relation

	if cte, ok := s.cte(rv.GetRelname()); ok && rv.GetSchemaname() == "" {
		rel = &relation{name: name, columns: cte.columns, order: cte.order}
	} else if tbl, ok := r.cat.Table(qualifiedName(rv)); ok {
		rel = newRelation(name, tbl.ID(), tbl.ColumnNames())
	} else {
		rel = &relation{name: name}
	}

	rel.aliased = alias != ""

	if cols := names(rv.GetAlias().GetColnames()); len(cols) > 0 {
		rel.setColumns(renameColumns(rel, cols))
	}

	return rel
}

// targets walks a select list and returns its output names
func (r *resolver) targets(list []*pg_query.Node, s *scope) []string {
	var outputs []string

	for _, n := range list {
		rt := n.GetResTarget()
		if rt == nil {
			continue
		}

		r.exprs(s, rt.GetVal())

		if rt.GetName() != "" {
			outputs = append(outputs, rt.GetName())
			continue
		}

		outputs = append(outputs, outputNames(rt.GetVal(), s)...)
	}

	return outputs
}

// outputNames follows PostgreSQL's naming of unaliased select-list items
func outputNames(val *pg_query.Node, s *scope) []string {
	switch {
	case val.GetColumnRef() != nil:
		fields := names(val.GetColumnRef().GetFields())
		if len(fields) == 0 {
			return []string{unnamedOutput}
		}

		last := fields[len(fields)-1]
		if last != "*" {
			return []string{last}
		}

		return expandStar(fields[:len(fields)-1], s)
	case val.GetFuncCall() != nil:
		parts := names(val.GetFuncCall().GetFuncname())
		if len(parts) > 0 {
			return []string{parts[len(parts)-1]}
		}
	case val.GetTypeCast() != nil:
		return outputNames(val.GetTypeCast().GetArg(), s)
	}

	return []string{unnamedOutput}
}

func expandStar(qualifier []string, s *scope) []string {
	var out []string

	for _, rel := range s.relations {
		if len(qualifier) > 0 && rel.name != qualifier[len(qualifier)-1] {
			continue
		}

		if rel.columns == nil {
			return []string{"*"}
		}

		out = append(out, rel.order...)
	}

	if len(out) == 0 {
		return []string{"*"}
	}

	return out
}

func (r *resolver) insertStmt(ins *pg_query.InsertStmt, parent *scope) []string {
	s := newScope(parent)
	r.withClause(ins.GetWithClause(), s)

	target := r.rangeVar(ins.GetRelation(), s)

	for _, c := range ins.GetCols() {
		if rt := c.GetResTarget(); rt != nil {
			r.refs = append(r.refs, columnRef{
				location: rt.GetLocation(),
				fields:   []string{rt.GetName()},
				scope:    s,
				target:   target,
			})
		}
	}

	if ins.GetSelectStmt() != nil {
		r.statement(ins.GetSelectStmt(), s.detached())
	}

	s.relations = append(s.relations, target)

	return r.targets(ins.GetReturningList(), s)
}

func (r *resolver) updateStmt(upd *pg_query.UpdateStmt, parent *scope) []string {
	s := newScope(parent)
	r.withClause(upd.GetWithClause(), s)

	target := r.rangeVar(upd.GetRelation(), s)
	s.relations = append(s.relations, target)

	for _, item := range upd.GetFromClause() {
		r.fromItem(item, s)
	}

	for _, n := range upd.GetTargetList() {
		rt := n.GetResTarget()
		if rt == nil {
			continue
		}

		r.refs = append(r.refs, columnRef{
			location: rt.GetLocation(),
			fields:   []string{rt.GetName()},
			scope:    s,
			target:   target,
		})
		r.exprs(s, rt.GetVal())
	}

	r.exprs(s, upd.GetWhereClause())

	return r.targets(upd.GetReturningList(), s)
}

func (r *resolver) deleteStmt(del *pg_query.DeleteStmt, parent *scope) []string {
	s := newScope(parent)
	r.withClause(del.GetWithClause(), s)

	s.relations = append(s.relations, r.rangeVar(del.GetRelation(), s))

	for _, item := range del.GetUsingClause() {
		r.fromItem(item, s)
	}

	r.exprs(s, del.GetWhereClause())

	return r.targets(del.GetReturningList(), s)
}

// outputExprs walks clauses that may name select-list outputs
func (r *resolver) outputExprs(s *scope, nodes ...*pg_query.Node) {
	prev := r.allowOutputs
	r.allowOutputs = true
	r.exprs(s, nodes...)
	r.allowOutputs = prev
}

// exprs collects column references from expressions, descending into
// subqueries with s as their outer scope
func (r *resolver) exprs(s *scope, nodes ...*pg_query.Node) {
	for _, n := range nodes {
		if n == nil {
			continue
		}

		walk(n.ProtoReflect(), func(m protoreflect.Message) bool {
			switch x := m.Interface().(type) {
			case *pg_query.ColumnRef:
				r.refs = append(r.refs, columnRef{
					location: x.GetLocation(),
					fields:   names(x.GetFields()),
					scope:    s,
					outputs:  r.allowOutputs,
				})
				return false
			case *pg_query.SubLink:
				r.exprs(s, x.GetTestexpr())
				r.statement(x.GetSubselect(), s)

				return false
			case *pg_query.SelectStmt:
				r.selectStmt(x, s)
				return false
			}

			return true
		})
	}
}

// check resolves one column reference
func (r *resolver) check(ref columnRef, opts Options) Outcome {
	if len(ref.fields) == 0 {
		return Outcome{Valid: true}
	}

	col := ref.fields[len(ref.fields)-1]

	if ref.target != nil {
		if ref.target.has(col) {
			return Outcome{Valid: true}
		}

		return r.missingColumn(col, ref.target, ref.target.order, opts)
	}

	switch len(ref.fields) {
	case 1:
		return r.unqualified(ref, col, opts)
	case 2:
		return r.qualified(ref.fields[0], col, ref.scope, opts)
	default:
		// schema.table.column or catalog.schema.table.column
		qual := strings.Join(ref.fields[len(ref.fields)-3:len(ref.fields)-1], ".")
		return r.qualified(qual, col, ref.scope, opts)
	}
}

func (r *resolver) unqualified(ref columnRef, col string, opts Options) Outcome {
	if col == "*" {
		return Outcome{Valid: true}
	}

	s := ref.scope

	if ref.outputs && s.outputs[col] {
		return Outcome{Valid: true}
	}

	for sc := s; sc != nil; sc = sc.parent {
		for _, rel := range sc.relations {
			if rel.has(col) || rel.name == col {
				return Outcome{Valid: true}
			}
		}
	}

	var (
		candidates []string
		table      *relation
	)

	for sc := s; sc != nil && len(candidates) == 0; sc = sc.parent {
		for _, rel := range sc.relations {
			candidates = append(candidates, rel.order...)
		}

		if len(sc.relations) == 1 {
			table = sc.relations[0]
		}
	}

	if ref.outputs {
		for o := range s.outputs {
			if o != unnamedOutput {
				candidates = append(candidates, o)
			}
		}
	}

	return r.missingColumn(col, table, candidates, opts)
}

func (r *resolver) qualified(qual, col string, s *scope, opts Options) Outcome {
	if rel := r.lookup(qual, s); rel != nil {
		if col == "*" || rel.has(col) {
			return Outcome{Valid: true}
		}

		return r.missingColumn(col, rel, rel.order, opts)
	}

	o := Outcome{
		Stage:     StageSchema,
		Reason:    fmt.Sprintf("missing FROM-clause entry for table %q", qual),
		Kind:      KindTable,
		Reference: qual,
	}

	if hidden := r.hiddenBy(qual, s); hidden != nil {
		o.Reason = fmt.Sprintf("invalid reference to FROM-clause entry for table %q, use its alias %s", qual, hidden.name)
		o.Suggestion = hidden.name
		o.Table = hidden.tableID

		return o
	}

	var candidates []string
	for sc := s; sc != nil; sc = sc.parent {
		for _, rel := range sc.relations {
			candidates = append(candidates, rel.name)
		}
	}

	o.Suggestion = nearest(qual, candidates)

	return o
}

// lookup finds the FROM item a qualifier names. An alias replaces the table
// name; a schema-qualified name matches the same table when it is unaliased.
func (r *resolver) lookup(qual string, s *scope) *relation {
	_, relname, qualified := strings.Cut(qual, ".")

	var tableID string

	if qualified {
		tbl, ok := r.cat.Table(qual)
		if !ok {
			return nil
		}

		tableID = tbl.ID()
	}

	for sc := s; sc != nil; sc = sc.parent {
		for _, rel := range sc.relations {
			switch {
			case !qualified && rel.name == qual:
				return rel
			case qualified && !rel.aliased && rel.name == relname && rel.tableID == tableID:
				return rel
			}
		}
	}

	return nil
}

// hiddenBy finds an aliased FROM item over the table qual names
func (r *resolver) hiddenBy(qual string, s *scope) *relation {
	tbl, ok := r.cat.Table(qual)
	if !ok {
		return nil
	}

	for sc := s; sc != nil; sc = sc.parent {
		for _, rel := range sc.relations {
			if rel.aliased && rel.tableID == tbl.ID() {
				return rel
			}
		}
	}

	return nil
}

func (r *resolver) missingColumn(col string, rel *relation, candidates []string, opts Options) Outcome {
	o := Outcome{
		Stage:      StageSchema,
		Kind:       KindColumn,
		Reference:  col,
		Suggestion: nearest(col, candidates),
		Reason:     fmt.Sprintf("column %q does not exist", col),
	}

	own := ""
	if rel != nil && rel.tableID != "" {
		own = rel.tableID
		o.Table = own
		o.Reason = fmt.Sprintf("column %q does not exist on table %s", col, own)
	}

	o.OwnerTables = r.owners(col, own, opts.ContextTables)

	return o
}

// owners lists other tables that have col, preferring those the model was shown
func (r *resolver) owners(col, exclude string, contextTables []string) []string {
	var inContext []string

	for _, id := range contextTables {
		if id == exclude {
			continue
		}

		if tbl, ok := r.cat.Table(id); ok {
			if _, ok := tbl.Column(col); ok {
				inContext = append(inContext, tbl.ID())
			}
		}
	}

	if len(inContext) > 0 {
		return inContext
	}

	var all []string

	for _, id := range r.cat.ColumnOwners(col) {
		if id != exclude {
			all = append(all, id)
		}
	}

	return all
}

// names extracts identifier strings from String and A_Star nodes. The parser
// has already folded unquoted names and kept quoted ones exact.
func names(nodes []*pg_query.Node) []string {
	out := make([]string, 0, len(nodes))

	for _, n := range nodes {
		switch {
		case n.GetString_() != nil:
			out = append(out, n.GetString_().GetSval())
		case n.GetAStar() != nil:
			out = append(out, "*")
		}
	}

	return out
}

func functionName(fn *pg_query.RangeFunction) string {
	for _, item := range fn.GetFunctions() {
		for _, inner := range item.GetList().GetItems() {
			if call := inner.GetFuncCall(); call != nil {
				parts := names(call.GetFuncname())
				if len(parts) > 0 {
					return parts[len(parts)-1]
				}
			}
		}
	}

	return ""
}

// compositeFunctions are set-returning functions with more than one output
// column and fixed column names
var compositeFunctions = map[string][]string{
	"json_each":       {"key", "value"},
	"jsonb_each":      {"key", "value"},
	"json_each_text":  {"key", "value"},
	"jsonb_each_text": {"key", "value"},
}

// functionColumns names the columns a FROM function produces without a column
// alias list. A single-column function is named by its alias, or by the
// function when unaliased or inside ROWS FROM.
func functionColumns(fn *pg_query.RangeFunction, alias string) []string {
	if defs := columnDefNames(fn.GetColdeflist()); len(defs) > 0 {
		return withOrdinality(fn, defs)
	}

	items := fn.GetFunctions()

	var cols []string

	for _, item := range items {
		parts := item.GetList().GetItems()
		if len(parts) == 0 {
			return []string{"*"}
		}

		if len(parts) > 1 {
			if defs := columnDefNames(parts[1].GetList().GetItems()); len(defs) > 0 {
				cols = append(cols, defs...)
				continue
			}
		}

		call := parts[0].GetFuncCall()
		if call == nil {
			return []string{"*"}
		}

		fname := ""
		if fnames := names(call.GetFuncname()); len(fnames) > 0 {
			fname = fnames[len(fnames)-1]
		}

		switch {
		case compositeFunctions[fname] != nil:
			cols = append(cols, compositeFunctions[fname]...)
		case fname == "unnest" && len(call.GetArgs()) > 1:
			return []string{"*"}
		case len(items) == 1 && alias != "":
			cols = append(cols, alias)
		default:
			cols = append(cols, fname)
		}
	}

	return withOrdinality(fn, cols)
}

func withOrdinality(fn *pg_query.RangeFunction, cols []string) []string {
	if fn.GetOrdinality() {
		return append(cols, "ordinality")
	}

	return cols
}

func columnDefNames(defs []*pg_query.Node) []string {
	var out []string

	for _, d := range defs {
		if cd := d.GetColumnDef(); cd != nil {
			out = append(out, cd.GetColname())
		}
	}

	return out
}
