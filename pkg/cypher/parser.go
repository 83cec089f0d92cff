// Package cypher provides Cypher query parsing and execution for NornicGraph.
//
// Supported Cypher Features:
//   - MATCH / OPTIONAL MATCH with node and relationship patterns
//   - WHERE boolean filters
//   - CREATE nodes and relationships
//   - MERGE with ON CREATE SET / ON MATCH SET
//   - SET properties, property maps and labels
//   - REMOVE properties and labels
//   - DELETE / DETACH DELETE
//   - RETURN [DISTINCT] with ORDER BY, SKIP and LIMIT
//   - Parameters ($name)
//
// Example Usage:
//
//	engine, _ := storage.NewBadgerEngineInMemory()
//	exec := cypher.NewStorageExecutor(engine)
//
//	res, err := exec.Execute(ctx,
//		"MATCH (n:Person) WHERE n.age >= $minAge RETURN n.name AS name", map[string]any{"minAge": 25})
//	if err != nil {
//		log.Fatal(err)
//	}
//	for _, rec := range res.Records {
//		name, _ := rec.Get("name")
//		fmt.Println(name)
//	}
package cypher

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/orneryd/nornicgraph/pkg/value"
)

// Query represents a parsed Cypher query.
type Query struct {
	Clauses []Clause

	// Parameters lists every $name the query references, in first-use order.
	Parameters []string

	Text string
}

// Clause represents a query clause.
type Clause interface {
	clauseMarker()
}

// MatchClause represents a MATCH clause.
type MatchClause struct {
	Patterns []Pattern
	Optional bool
	Where    Expression
}

func (c *MatchClause) clauseMarker() {}

// CreateClause represents a CREATE clause.
type CreateClause struct {
	Patterns []Pattern
}

func (c *CreateClause) clauseMarker() {}

// MergeClause represents a MERGE clause on a single pattern.
type MergeClause struct {
	Pattern  Pattern
	OnCreate []SetItem
	OnMatch  []SetItem
}

func (c *MergeClause) clauseMarker() {}

// SetClause represents a SET clause.
type SetClause struct {
	Items []SetItem
}

func (c *SetClause) clauseMarker() {}

// RemoveClause represents a REMOVE clause.
type RemoveClause struct {
	Items []RemoveItem
}

func (c *RemoveClause) clauseMarker() {}

// DeleteClause represents a DELETE clause.
type DeleteClause struct {
	Expressions []Expression
	Detach      bool
}

func (c *DeleteClause) clauseMarker() {}

// ReturnClause represents a RETURN clause. It is always the last clause.
type ReturnClause struct {
	Distinct bool
	Items    []ReturnItem
	OrderBy  []OrderItem
	Skip     Expression
	Limit    Expression
}

func (c *ReturnClause) clauseMarker() {}

// Pattern represents a path pattern: len(Edges) == len(Nodes)-1 and Edges[i]
// connects Nodes[i] to Nodes[i+1].
type Pattern struct {
	Nodes []NodePattern
	Edges []EdgePattern
}

// NodePattern represents a node in a pattern.
type NodePattern struct {
	Variable   string
	Labels     []string
	Properties *MapLiteral
}

// EdgePattern represents an edge in a pattern. An empty Types matches any
// relationship type.
type EdgePattern struct {
	Variable   string
	Types      []string
	Direction  EdgeDirection
	Properties *MapLiteral
}

// EdgeDirection represents edge direction relative to the pattern's reading
// order.
type EdgeDirection int

const (
	EdgeBoth EdgeDirection = iota
	EdgeOutgoing
	EdgeIncoming
)

// SetItemKind distinguishes the SET forms.
type SetItemKind int

const (
	SetProperty SetItemKind = iota // n.prop = expr
	SetMerge                       // n += map
	SetReplace                     // n = map
	SetLabels                      // n:Label
)

// SetItem represents a SET operation.
type SetItem struct {
	Kind     SetItemKind
	Variable string
	Property string
	Value    Expression
	Labels   []string
}

// RemoveItem represents a REMOVE operation: either a property or labels.
type RemoveItem struct {
	Variable string
	Property string
	Labels   []string
}

// ReturnItem represents an item in a RETURN clause. Alias is the column
// name: the AS name when given, else the expression's source text.
type ReturnItem struct {
	Expression Expression
	Alias      string
	Text       string
}

// OrderItem represents an ORDER BY item.
type OrderItem struct {
	Expression Expression
	Text       string
	Descending bool
}

// Expression represents a Cypher expression.
type Expression interface {
	exprMarker()
}

// Literal represents a literal value.
type Literal struct {
	Value value.Value
}

// Parameter represents a query parameter ($name).
type Parameter struct {
	Name string
}

// Variable references a bound pattern variable or alias.
type Variable struct {
	Name string
}

// PropertyAccess represents property access (e.g., n.name).
type PropertyAccess struct {
	Subject  Expression
	Property string
}

// Comparison represents a comparison expression. Operator is one of
// = <> < <= > >= IN STARTS WITH, ENDS WITH, CONTAINS.
type Comparison struct {
	Left     Expression
	Operator string
	Right    Expression
}

// BinaryOp represents arithmetic: + - * / %.
type BinaryOp struct {
	Left     Expression
	Operator string
	Right    Expression
}

// Logical represents AND, OR and XOR.
type Logical struct {
	Left     Expression
	Operator string
	Right    Expression
}

// Not negates a boolean expression.
type Not struct {
	Expr Expression
}

// Negate is unary minus.
type Negate struct {
	Expr Expression
}

// IsNull represents "expr IS [NOT] NULL".
type IsNull struct {
	Expr    Expression
	Negated bool
}

// ListLiteral represents [a, b, ...].
type ListLiteral struct {
	Items []Expression
}

// MapLiteral represents {k: v, ...}; Keys keeps source order.
type MapLiteral struct {
	Keys   []string
	Values []Expression
}

// Index represents subject[index].
type Index struct {
	Subject Expression
	Index   Expression
}

// FunctionCall represents a function call. Star is set for count(*).
type FunctionCall struct {
	Name     string
	Args     []Expression
	Distinct bool
	Star     bool
}

func (e *Literal) exprMarker()        {}
func (e *Parameter) exprMarker()      {}
func (e *Variable) exprMarker()       {}
func (e *PropertyAccess) exprMarker() {}
func (e *Comparison) exprMarker()     {}
func (e *BinaryOp) exprMarker()       {}
func (e *Logical) exprMarker()        {}
func (e *Not) exprMarker()            {}
func (e *Negate) exprMarker()         {}
func (e *IsNull) exprMarker()         {}
func (e *ListLiteral) exprMarker()    {}
func (e *MapLiteral) exprMarker()     {}
func (e *Index) exprMarker()          {}
func (e *FunctionCall) exprMarker()   {}

// Parser parses Cypher queries into AST.
type Parser struct{}

// NewParser creates a new Cypher parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse parses a Cypher query string into a Query AST. Errors are
// *SyntaxError.
func (p *Parser) Parse(cypher string) (*Query, error) {
	tokens, err := tokenize(cypher)
	if err != nil {
		return nil, err
	}
	return p.parseTokens(cypher, tokens)
}

func (p *Parser) parseTokens(cypher string, tokens []token) (*Query, error) {
	ps := &parseState{src: cypher, tokens: tokens, seenParams: map[string]bool{}}
	q, err := ps.parseQuery()
	if err != nil {
		return nil, err
	}
	q.Text = cypher
	q.Parameters = ps.params
	return q, nil
}

// parseState is a recursive-descent cursor over the token stream.
type parseState struct {
	src    string
	tokens []token
	pos    int

	params     []string
	seenParams map[string]bool
}

func (ps *parseState) peek() token { return ps.tokens[ps.pos] }

func (ps *parseState) peekAt(n int) token {
	if ps.pos+n >= len(ps.tokens) {
		return ps.tokens[len(ps.tokens)-1]
	}
	return ps.tokens[ps.pos+n]
}

func (ps *parseState) next() token {
	t := ps.tokens[ps.pos]
	if t.kind != tokEOF {
		ps.pos++
	}
	return t
}

func (ps *parseState) isKeyword(kw string) bool {
	t := ps.peek()
	return t.kind == tokKeyword && t.text == kw
}

func (ps *parseState) isSymbol(sym string) bool {
	t := ps.peek()
	return t.kind == tokSymbol && t.text == sym
}

func (ps *parseState) acceptKeyword(kw string) bool {
	if ps.isKeyword(kw) {
		ps.pos++
		return true
	}
	return false
}

func (ps *parseState) acceptSymbol(sym string) bool {
	if ps.isSymbol(sym) {
		ps.pos++
		return true
	}
	return false
}

func (ps *parseState) errorf(format string, args ...any) error {
	return syntaxErrorAt(ps.src, ps.peek().offset, fmt.Sprintf(format, args...))
}

func (ps *parseState) expectSymbol(sym string) error {
	if !ps.acceptSymbol(sym) {
		return ps.errorf("expected %q", sym)
	}
	return nil
}

func (ps *parseState) expectKeyword(kw string) error {
	if !ps.acceptKeyword(kw) {
		return ps.errorf("expected %s", kw)
	}
	return nil
}

// expectName accepts an identifier, or a keyword used as a name (labels,
// property keys and map keys may collide with keywords).
func (ps *parseState) expectName(what string) (string, error) {
	t := ps.peek()
	switch t.kind {
	case tokIdent:
		ps.pos++
		return t.text, nil
	case tokKeyword:
		ps.pos++
		return ps.src[t.offset:t.end], nil
	}
	return "", ps.errorf("expected %s", what)
}

func (ps *parseState) parseQuery() (*Query, error) {
	q := &Query{}
	for ps.peek().kind != tokEOF {
		if len(q.Clauses) > 0 {
			if _, ok := q.Clauses[len(q.Clauses)-1].(*ReturnClause); ok {
				return nil, ps.errorf("RETURN must be the last clause")
			}
		}
		clause, err := ps.parseClause()
		if err != nil {
			return nil, err
		}
		q.Clauses = append(q.Clauses, clause)
	}
	if len(q.Clauses) == 0 {
		return nil, &SyntaxError{Message: "empty query", Offset: 0}
	}
	return q, nil
}

func (ps *parseState) parseClause() (Clause, error) {
	t := ps.peek()
	if t.kind != tokKeyword {
		return nil, ps.errorf("expected a clause keyword")
	}
	switch t.text {
	case "MATCH":
		ps.next()
		return ps.parseMatch(false)
	case "OPTIONAL":
		ps.next()
		if err := ps.expectKeyword("MATCH"); err != nil {
			return nil, err
		}
		return ps.parseMatch(true)
	case "CREATE":
		ps.next()
		start := ps.peek().offset
		patterns, err := ps.parsePatternList()
		if err != nil {
			return nil, err
		}
		if err := ps.checkCreatable(start, patterns, true); err != nil {
			return nil, err
		}
		return &CreateClause{Patterns: patterns}, nil
	case "MERGE":
		ps.next()
		return ps.parseMerge()
	case "SET":
		ps.next()
		items, err := ps.parseSetItems()
		if err != nil {
			return nil, err
		}
		return &SetClause{Items: items}, nil
	case "REMOVE":
		ps.next()
		return ps.parseRemove()
	case "DETACH":
		ps.next()
		if err := ps.expectKeyword("DELETE"); err != nil {
			return nil, err
		}
		return ps.parseDelete(true)
	case "DELETE":
		ps.next()
		return ps.parseDelete(false)
	case "RETURN":
		ps.next()
		return ps.parseReturn()
	}
	return nil, ps.errorf("unsupported clause %s", t.text)
}

// parseMatch parses a MATCH clause.
func (ps *parseState) parseMatch(optional bool) (*MatchClause, error) {
	patterns, err := ps.parsePatternList()
	if err != nil {
		return nil, err
	}
	clause := &MatchClause{Patterns: patterns, Optional: optional}
	if ps.acceptKeyword("WHERE") {
		clause.Where, err = ps.parseExpression()
		if err != nil {
			return nil, err
		}
	}
	return clause, nil
}

func (ps *parseState) parseMerge() (*MergeClause, error) {
	start := ps.peek().offset
	pattern, err := ps.parsePattern()
	if err != nil {
		return nil, err
	}
	if err := ps.checkCreatable(start, []Pattern{pattern}, false); err != nil {
		return nil, err
	}
	clause := &MergeClause{Pattern: pattern}
	for ps.isKeyword("ON") {
		ps.next()
		var onCreate bool
		switch {
		case ps.acceptKeyword("CREATE"):
			onCreate = true
		case ps.acceptKeyword("MATCH"):
		default:
			return nil, ps.errorf("expected CREATE or MATCH after ON")
		}
		if err := ps.expectKeyword("SET"); err != nil {
			return nil, err
		}
		items, err := ps.parseSetItems()
		if err != nil {
			return nil, err
		}
		if onCreate {
			clause.OnCreate = append(clause.OnCreate, items...)
		} else {
			clause.OnMatch = append(clause.OnMatch, items...)
		}
	}
	return clause, nil
}

func (ps *parseState) parseSetItems() ([]SetItem, error) {
	var items []SetItem
	for {
		variable, err := ps.expectName("variable")
		if err != nil {
			return nil, err
		}
		switch {
		case ps.acceptSymbol("."):
			prop, err := ps.expectName("property name")
			if err != nil {
				return nil, err
			}
			if err := ps.expectSymbol("="); err != nil {
				return nil, err
			}
			expr, err := ps.parseExpression()
			if err != nil {
				return nil, err
			}
			items = append(items, SetItem{Kind: SetProperty, Variable: variable, Property: prop, Value: expr})
		case ps.acceptSymbol("+="):
			expr, err := ps.parseExpression()
			if err != nil {
				return nil, err
			}
			items = append(items, SetItem{Kind: SetMerge, Variable: variable, Value: expr})
		case ps.acceptSymbol("="):
			expr, err := ps.parseExpression()
			if err != nil {
				return nil, err
			}
			items = append(items, SetItem{Kind: SetReplace, Variable: variable, Value: expr})
		case ps.isSymbol(":"):
			labels, err := ps.parseLabels()
			if err != nil {
				return nil, err
			}
			items = append(items, SetItem{Kind: SetLabels, Variable: variable, Labels: labels})
		default:
			return nil, ps.errorf("expected property, label or map assignment")
		}
		if !ps.acceptSymbol(",") {
			return items, nil
		}
	}
}

func (ps *parseState) parseRemove() (*RemoveClause, error) {
	clause := &RemoveClause{}
	for {
		variable, err := ps.expectName("variable")
		if err != nil {
			return nil, err
		}
		switch {
		case ps.acceptSymbol("."):
			prop, err := ps.expectName("property name")
			if err != nil {
				return nil, err
			}
			clause.Items = append(clause.Items, RemoveItem{Variable: variable, Property: prop})
		case ps.isSymbol(":"):
			labels, err := ps.parseLabels()
			if err != nil {
				return nil, err
			}
			clause.Items = append(clause.Items, RemoveItem{Variable: variable, Labels: labels})
		default:
			return nil, ps.errorf("expected property or label to remove")
		}
		if !ps.acceptSymbol(",") {
			return clause, nil
		}
	}
}

// parseDelete parses a DELETE clause.
func (ps *parseState) parseDelete(detach bool) (*DeleteClause, error) {
	clause := &DeleteClause{Detach: detach}
	for {
		expr, err := ps.parseExpression()
		if err != nil {
			return nil, err
		}
		clause.Expressions = append(clause.Expressions, expr)
		if !ps.acceptSymbol(",") {
			return clause, nil
		}
	}
}

// parseReturn parses a RETURN clause.
func (ps *parseState) parseReturn() (*ReturnClause, error) {
	clause := &ReturnClause{Distinct: ps.acceptKeyword("DISTINCT")}
	for {
		start := ps.peek().offset
		expr, err := ps.parseExpression()
		if err != nil {
			return nil, err
		}
		text := ps.textSince(start)
		item := ReturnItem{Expression: expr, Text: text, Alias: text}
		if ps.acceptKeyword("AS") {
			alias, err := ps.expectName("alias")
			if err != nil {
				return nil, err
			}
			item.Alias = alias
		}
		for _, prev := range clause.Items {
			if prev.Alias == item.Alias {
				return nil, syntaxErrorAt(ps.src, start, fmt.Sprintf("duplicate column name %q", item.Alias))
			}
		}
		clause.Items = append(clause.Items, item)
		if !ps.acceptSymbol(",") {
			break
		}
	}

	if ps.acceptKeyword("ORDER") {
		if err := ps.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			start := ps.peek().offset
			expr, err := ps.parseExpression()
			if err != nil {
				return nil, err
			}
			item := OrderItem{Expression: expr, Text: ps.textSince(start)}
			switch {
			case ps.acceptKeyword("DESC"), ps.acceptKeyword("DESCENDING"):
				item.Descending = true
			case ps.acceptKeyword("ASC"), ps.acceptKeyword("ASCENDING"):
			}
			clause.OrderBy = append(clause.OrderBy, item)
			if !ps.acceptSymbol(",") {
				break
			}
		}
	}
	if ps.acceptKeyword("SKIP") {
		expr, err := ps.parseExpression()
		if err != nil {
			return nil, err
		}
		clause.Skip = expr
	}
	if ps.acceptKeyword("LIMIT") {
		expr, err := ps.parseExpression()
		if err != nil {
			return nil, err
		}
		clause.Limit = expr
	}
	return clause, nil
}

// checkCreatable rejects relationship patterns that cannot be created: each
// needs exactly one type, and CREATE also needs a direction.
func (ps *parseState) checkCreatable(offset int, patterns []Pattern, needDirection bool) error {
	for _, p := range patterns {
		for _, e := range p.Edges {
			if len(e.Types) != 1 {
				return syntaxErrorAt(ps.src, offset, "a relationship must have exactly one type to be created")
			}
			if needDirection && e.Direction == EdgeBoth {
				return syntaxErrorAt(ps.src, offset, "only directed relationships can be created")
			}
		}
	}
	return nil
}

// textSince returns the canonical text of the tokens consumed since offset.
func (ps *parseState) textSince(offset int) string {
	first := sort.Search(ps.pos, func(i int) bool { return ps.tokens[i].offset >= offset })
	return canonicalText(ps.src, ps.tokens[first:ps.pos])
}

// ============================================================================
// Patterns
// ============================================================================

func (ps *parseState) parsePatternList() ([]Pattern, error) {
	var patterns []Pattern
	for {
		p, err := ps.parsePattern()
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
		if !ps.acceptSymbol(",") {
			return patterns, nil
		}
	}
}

func (ps *parseState) parsePattern() (Pattern, error) {
	var p Pattern
	node, err := ps.parseNodePattern()
	if err != nil {
		return p, err
	}
	p.Nodes = append(p.Nodes, node)
	for ps.isSymbol("-") || ps.isSymbol("<-") {
		edge, err := ps.parseEdgePattern()
		if err != nil {
			return p, err
		}
		node, err := ps.parseNodePattern()
		if err != nil {
			return p, err
		}
		p.Edges = append(p.Edges, edge)
		p.Nodes = append(p.Nodes, node)
	}
	return p, nil
}

func (ps *parseState) parseNodePattern() (NodePattern, error) {
	var n NodePattern
	if err := ps.expectSymbol("("); err != nil {
		return n, err
	}
	if t := ps.peek(); t.kind == tokIdent {
		n.Variable = t.text
		ps.next()
	}
	if ps.isSymbol(":") {
		labels, err := ps.parseLabels()
		if err != nil {
			return n, err
		}
		n.Labels = labels
	}
	if ps.isSymbol("{") {
		m, err := ps.parseMapLiteral()
		if err != nil {
			return n, err
		}
		n.Properties = m
	}
	if err := ps.expectSymbol(")"); err != nil {
		return n, err
	}
	return n, nil
}

// parseLabels parses one or more ":Label" suffixes.
func (ps *parseState) parseLabels() ([]string, error) {
	var labels []string
	for ps.acceptSymbol(":") {
		label, err := ps.expectName("label")
		if err != nil {
			return nil, err
		}
		labels = append(labels, label)
	}
	return labels, nil
}

// parseEdgePattern parses the connector between two node patterns:
// -[..]->, <-[..]-, -[..]-, and the bare forms -->, <--, --.
func (ps *parseState) parseEdgePattern() (EdgePattern, error) {
	var e EdgePattern
	incoming := false
	switch {
	case ps.acceptSymbol("<-"):
		incoming = true
	case ps.acceptSymbol("-"):
	default:
		return e, ps.errorf("expected relationship pattern")
	}

	if ps.acceptSymbol("[") {
		if t := ps.peek(); t.kind == tokIdent {
			e.Variable = t.text
			ps.next()
		}
		if ps.acceptSymbol(":") {
			for {
				typ, err := ps.expectName("relationship type")
				if err != nil {
					return e, err
				}
				e.Types = append(e.Types, typ)
				if !ps.acceptSymbol("|") {
					break
				}
				ps.acceptSymbol(":")
			}
		}
		if ps.isSymbol("*") {
			return e, ps.errorf("variable-length relationships are not supported")
		}
		if ps.isSymbol("{") {
			m, err := ps.parseMapLiteral()
			if err != nil {
				return e, err
			}
			e.Properties = m
		}
		if err := ps.expectSymbol("]"); err != nil {
			return e, err
		}
	}

	outgoing := false
	switch {
	case ps.acceptSymbol("->"):
		outgoing = true
	case ps.acceptSymbol("-"):
	default:
		return e, ps.errorf("expected - or -> to close relationship pattern")
	}

	switch {
	case incoming && outgoing:
		return e, ps.errorf("relationship cannot point both ways")
	case incoming:
		e.Direction = EdgeIncoming
	case outgoing:
		e.Direction = EdgeOutgoing
	default:
		e.Direction = EdgeBoth
	}
	return e, nil
}

// ============================================================================
// Expressions
// ============================================================================

func (ps *parseState) parseExpression() (Expression, error) {
	return ps.parseOr()
}

func (ps *parseState) parseOr() (Expression, error) {
	left, err := ps.parseXor()
	if err != nil {
		return nil, err
	}
	for ps.acceptKeyword("OR") {
		right, err := ps.parseXor()
		if err != nil {
			return nil, err
		}
		left = &Logical{Left: left, Operator: "OR", Right: right}
	}
	return left, nil
}

func (ps *parseState) parseXor() (Expression, error) {
	left, err := ps.parseAnd()
	if err != nil {
		return nil, err
	}
	for ps.acceptKeyword("XOR") {
		right, err := ps.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Logical{Left: left, Operator: "XOR", Right: right}
	}
	return left, nil
}

func (ps *parseState) parseAnd() (Expression, error) {
	left, err := ps.parseNot()
	if err != nil {
		return nil, err
	}
	for ps.acceptKeyword("AND") {
		right, err := ps.parseNot()
		if err != nil {
			return nil, err
		}
		left = &Logical{Left: left, Operator: "AND", Right: right}
	}
	return left, nil
}

func (ps *parseState) parseNot() (Expression, error) {
	if ps.acceptKeyword("NOT") {
		inner, err := ps.parseNot()
		if err != nil {
			return nil, err
		}
		return &Not{Expr: inner}, nil
	}
	return ps.parseComparison()
}

func (ps *parseState) parseComparison() (Expression, error) {
	left, err := ps.parseAdditive()
	if err != nil {
		return nil, err
	}
	for {
		t := ps.peek()
		var op string
		switch {
		case t.kind == tokSymbol && (t.text == "=" || t.text == "<>" || t.text == "<" ||
			t.text == "<=" || t.text == ">" || t.text == ">="):
			op = t.text
			ps.next()
		case t.kind == tokSymbol && t.text == "!=":
			op = "<>"
			ps.next()
		case t.kind == tokSymbol && t.text == "<-":
			// "a<-1" lexes as "<-" but means a < -1
			ps.next()
			right, err := ps.parseAdditive()
			if err != nil {
				return nil, err
			}
			left = &Comparison{Left: left, Operator: "<", Right: &Negate{Expr: right}}
			continue
		case ps.isKeyword("IN"):
			ps.next()
			op = "IN"
		case ps.isKeyword("CONTAINS"):
			ps.next()
			op = "CONTAINS"
		case ps.isKeyword("STARTS"), ps.isKeyword("ENDS"):
			op = t.text + " WITH"
			ps.next()
			if err := ps.expectKeyword("WITH"); err != nil {
				return nil, err
			}
		case ps.isKeyword("IS"):
			ps.next()
			negated := ps.acceptKeyword("NOT")
			if err := ps.expectKeyword("NULL"); err != nil {
				return nil, err
			}
			left = &IsNull{Expr: left, Negated: negated}
			continue
		default:
			return left, nil
		}
		right, err := ps.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = &Comparison{Left: left, Operator: op, Right: right}
	}
}

func (ps *parseState) parseAdditive() (Expression, error) {
	left, err := ps.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for ps.isSymbol("+") || ps.isSymbol("-") {
		op := ps.next().text
		right, err := ps.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &BinaryOp{Left: left, Operator: op, Right: right}
	}
	return left, nil
}

func (ps *parseState) parseMultiplicative() (Expression, error) {
	left, err := ps.parseUnary()
	if err != nil {
		return nil, err
	}
	for ps.isSymbol("*") || ps.isSymbol("/") || ps.isSymbol("%") {
		op := ps.next().text
		right, err := ps.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryOp{Left: left, Operator: op, Right: right}
	}
	return left, nil
}

func (ps *parseState) parseUnary() (Expression, error) {
	if ps.acceptSymbol("-") {
		inner, err := ps.parseUnary()
		if err != nil {
			return nil, err
		}
		if lit, ok := inner.(*Literal); ok {
			if i, ok := lit.Value.AsInt(); ok {
				return &Literal{Value: value.Int(-i)}, nil
			}
			if f, ok := lit.Value.AsFloat(); ok {
				return &Literal{Value: value.Float(-f)}, nil
			}
		}
		return &Negate{Expr: inner}, nil
	}
	if ps.acceptSymbol("+") {
		return ps.parseUnary()
	}
	return ps.parsePostfix()
}

func (ps *parseState) parsePostfix() (Expression, error) {
	expr, err := ps.parseAtom()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case ps.acceptSymbol("."):
			prop, err := ps.expectName("property name")
			if err != nil {
				return nil, err
			}
			expr = &PropertyAccess{Subject: expr, Property: prop}
		case ps.acceptSymbol("["):
			idx, err := ps.parseExpression()
			if err != nil {
				return nil, err
			}
			if err := ps.expectSymbol("]"); err != nil {
				return nil, err
			}
			expr = &Index{Subject: expr, Index: idx}
		default:
			return expr, nil
		}
	}
}

func (ps *parseState) parseAtom() (Expression, error) {
	t := ps.peek()
	switch t.kind {
	case tokInteger:
		ps.next()
		i, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return nil, syntaxErrorAt(ps.src, t.offset, "integer literal out of range")
		}
		return &Literal{Value: value.Int(i)}, nil
	case tokFloat:
		ps.next()
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, syntaxErrorAt(ps.src, t.offset, "invalid float literal")
		}
		return &Literal{Value: value.Float(f)}, nil
	case tokString:
		ps.next()
		return &Literal{Value: value.String(t.text)}, nil
	case tokParam:
		ps.next()
		if !ps.seenParams[t.text] {
			ps.seenParams[t.text] = true
			ps.params = append(ps.params, t.text)
		}
		return &Parameter{Name: t.text}, nil
	case tokKeyword:
		switch t.text {
		case "TRUE":
			ps.next()
			return &Literal{Value: value.Bool(true)}, nil
		case "FALSE":
			ps.next()
			return &Literal{Value: value.Bool(false)}, nil
		case "NULL":
			ps.next()
			return &Literal{Value: value.Null()}, nil
		}
		return nil, ps.errorf("unexpected keyword %s", t.text)
	case tokIdent:
		ps.next()
		if ps.isSymbol("(") {
			return ps.parseFunctionCall(t.text)
		}
		return &Variable{Name: t.text}, nil
	case tokSymbol:
		switch t.text {
		case "(":
			ps.next()
			inner, err := ps.parseExpression()
			if err != nil {
				return nil, err
			}
			if err := ps.expectSymbol(")"); err != nil {
				return nil, err
			}
			return inner, nil
		case "[":
			return ps.parseListLiteral()
		case "{":
			return ps.parseMapLiteral()
		}
	case tokEOF:
		return nil, ps.errorf("unexpected end of query")
	}
	return nil, ps.errorf("unexpected %q", t.text)
}

func (ps *parseState) parseFunctionCall(name string) (Expression, error) {
	if err := ps.expectSymbol("("); err != nil {
		return nil, err
	}
	call := &FunctionCall{Name: strings.ToLower(name)}
	if ps.acceptSymbol("*") {
		if call.Name != "count" {
			return nil, ps.errorf("* is only valid in count(*)")
		}
		call.Star = true
		if err := ps.expectSymbol(")"); err != nil {
			return nil, err
		}
		return call, nil
	}
	call.Distinct = ps.acceptKeyword("DISTINCT")
	if ps.acceptSymbol(")") {
		return call, nil
	}
	for {
		arg, err := ps.parseExpression()
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, arg)
		if !ps.acceptSymbol(",") {
			break
		}
	}
	if err := ps.expectSymbol(")"); err != nil {
		return nil, err
	}
	return call, nil
}

func (ps *parseState) parseListLiteral() (Expression, error) {
	if err := ps.expectSymbol("["); err != nil {
		return nil, err
	}
	list := &ListLiteral{}
	if ps.acceptSymbol("]") {
		return list, nil
	}
	for {
		item, err := ps.parseExpression()
		if err != nil {
			return nil, err
		}
		list.Items = append(list.Items, item)
		if !ps.acceptSymbol(",") {
			break
		}
	}
	if err := ps.expectSymbol("]"); err != nil {
		return nil, err
	}
	return list, nil
}

func (ps *parseState) parseMapLiteral() (*MapLiteral, error) {
	if err := ps.expectSymbol("{"); err != nil {
		return nil, err
	}
	m := &MapLiteral{}
	if ps.acceptSymbol("}") {
		return m, nil
	}
	seen := map[string]bool{}
	for {
		if t := ps.peek(); t.kind == tokString {
			return nil, ps.errorf("map keys must be names, not strings")
		}
		key, err := ps.expectName("map key")
		if err != nil {
			return nil, err
		}
		if seen[key] {
			return nil, ps.errorf("duplicate map key %q", key)
		}
		seen[key] = true
		if err := ps.expectSymbol(":"); err != nil {
			return nil, err
		}
		val, err := ps.parseExpression()
		if err != nil {
			return nil, err
		}
		m.Keys = append(m.Keys, key)
		m.Values = append(m.Values, val)
		if !ps.acceptSymbol(",") {
			break
		}
	}
	if err := ps.expectSymbol("}"); err != nil {
		return nil, err
	}
	return m, nil
}
