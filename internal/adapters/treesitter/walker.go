package treesitter

import (
	"fmt"
	"sort"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/corey/tsprism/internal/ports"
)

// Diagnostic codes.
const (
	CodeSyntax             = "syntax-error"
	CodeMissing            = "missing-token"
	CodeDuplicate          = "duplicate-declaration"
	CodeUnknownBase        = "unknown-base-module"
	CodeUnknownOwned       = "unknown-player-module"
	CodeMultipleOwners     = "module-multiple-players"
	CodeMultipleModelTypes = "multiple-model-types"
)

// Declaration namespaces. Labels, modules, players and reward structures
// each have their own; constants, formulas and variables share one.
const (
	nsIdentifier = "identifier"
	nsLabel      = "label"
	nsModule     = "module"
	nsPlayer     = "player"
	nsRewards    = "rewards"
)

// site is the position of a declaration name.
type site struct {
	node *tree_sitter.Node
	line uint32
}

type renamedModule struct {
	name string
	base *tree_sitter.Node
}

type ownedModule struct {
	player string
	id     *tree_sitter.Node
}

type checkContext struct {
	source     []byte
	diags      []ports.Diagnostic
	declared   map[string]map[string]site // namespace -> name -> first site
	modelTypes []*tree_sitter.Node
	renamed    []renamedModule
	owned      []ownedModule
}

// declarationChecks run after the top-level pass has collected every
// declaration, so forward references resolve.
var declarationChecks = []func(*checkContext){
	(*checkContext).checkModelTypes,
	(*checkContext).checkRenamedModules,
	(*checkContext).checkPlayers,
}

// checkTree reports syntax errors, missing tokens and declaration problems,
// ordered by position.
func checkTree(root *tree_sitter.Node, source []byte) []ports.Diagnostic {
	ctx := &checkContext{
		source:   source,
		declared: make(map[string]map[string]site),
	}
	ctx.walkSyntax(root)
	ctx.collect(root)
	for _, check := range declarationChecks {
		check(ctx)
	}
	sort.SliceStable(ctx.diags, func(i, j int) bool {
		if ctx.diags[i].Line != ctx.diags[j].Line {
			return ctx.diags[i].Line < ctx.diags[j].Line
		}
		return ctx.diags[i].Column < ctx.diags[j].Column
	})
	return ctx.diags
}

func (ctx *checkContext) report(n *tree_sitter.Node, sev ports.Severity, code, format string, args ...any) {
	pos := n.StartPosition()
	ctx.diags = append(ctx.diags, ports.Diagnostic{
		Line:     uint32(pos.Row + 1),
		Column:   uint32(pos.Column + 1),
		Severity: sev,
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
	})
}

// walkSyntax descends only into subtrees that contain errors. An ERROR node
// is reported once; nested problems inside it are not.
func (ctx *checkContext) walkSyntax(n *tree_sitter.Node) {
	if !n.HasError() {
		return
	}
	switch {
	case n.IsMissing():
		ctx.report(n, ports.SeverityError, CodeMissing, "missing %q", n.Kind())
		return
	case n.IsError():
		if text := compact(nodeText(n, ctx.source), 40); text != "" {
			ctx.report(n, ports.SeverityError, CodeSyntax, "syntax error near %q", text)
		} else {
			ctx.report(n, ports.SeverityError, CodeSyntax, "syntax error")
		}
		return
	}
	for i := uint(0); i < uint(n.ChildCount()); i++ {
		ctx.walkSyntax(n.Child(i))
	}
}

// collect records top-level declarations and reports duplicates.
func (ctx *checkContext) collect(root *tree_sitter.Node) {
	for i := uint(0); i < uint(root.ChildCount()); i++ {
		child := root.Child(i)
		switch child.Kind() {
		case "model_type_declaration":
			ctx.modelTypes = append(ctx.modelTypes, child)
		case "const_declaration":
			ctx.declare(nsIdentifier, "constant", child.ChildByFieldName("name"))
		case "formula_declaration":
			ctx.declare(nsIdentifier, "formula", child.ChildByFieldName("name"))
		case "global_declaration":
			if v := childByKind(child, "variable_declaration"); v != nil {
				ctx.declare(nsIdentifier, "variable", v.ChildByFieldName("name"))
			}
		case "label_declaration":
			ctx.declare(nsLabel, "label", child.ChildByFieldName("name"))
		case "reward_declaration":
			ctx.declare(nsRewards, "reward structure", child.ChildByFieldName("name"))
		case "module_declaration":
			ctx.collectModule(child)
		case "player_declaration":
			ctx.collectPlayer(child)
		}
	}
}

func (ctx *checkContext) collectModule(n *tree_sitter.Node) {
	nameNode := n.ChildByFieldName("name")
	ctx.declare(nsModule, "module", nameNode)
	for _, v := range childrenByKind(n, "variable_declaration") {
		ctx.declare(nsIdentifier, "variable", v.ChildByFieldName("name"))
	}
	if base := n.ChildByFieldName("instantiated_from"); base != nil && nameNode != nil {
		ctx.renamed = append(ctx.renamed, renamedModule{name: nodeText(nameNode, ctx.source), base: base})
	}
}

// collectPlayer records the modules a player owns. Owned actions sit between
// brackets; every other identifier after the name is a module.
func (ctx *checkContext) collectPlayer(n *tree_sitter.Node) {
	nameNode := n.ChildByFieldName("name")
	ctx.declare(nsPlayer, "player", nameNode)
	if nameNode == nil {
		return
	}
	player := nodeText(nameNode, ctx.source)

	inAction := false
	for i := uint(0); i < uint(n.ChildCount()); i++ {
		c := n.Child(i)
		switch c.Kind() {
		case "[":
			inAction = true
		case "]":
			inAction = false
		case "identifier":
			if inAction || c.StartByte() == nameNode.StartByte() {
				continue
			}
			ctx.owned = append(ctx.owned, ownedModule{player: player, id: c})
		}
	}
}

func (ctx *checkContext) declare(ns, what string, nameNode *tree_sitter.Node) {
	if nameNode == nil || nameNode.IsMissing() {
		return
	}
	name := nodeText(nameNode, ctx.source)
	if name == "" {
		return
	}
	names := ctx.declared[ns]
	if names == nil {
		names = make(map[string]site)
		ctx.declared[ns] = names
	}
	if first, ok := names[name]; ok {
		ctx.report(nameNode, ports.SeverityError, CodeDuplicate,
			"duplicate %s %q (first declared on line %d)", what, name, first.line)
		return
	}
	names[name] = site{node: nameNode, line: uint32(nameNode.StartPosition().Row + 1)}
}

func (ctx *checkContext) isDeclared(ns, name string) bool {
	_, ok := ctx.declared[ns][name]
	return ok
}

// checkModelTypes: at most one of dtmc/ctmc/mdp/smg/csg per file.
func (ctx *checkContext) checkModelTypes() {
	if len(ctx.modelTypes) < 2 {
		return
	}
	first := ctx.modelTypes[0]
	firstLine := first.StartPosition().Row + 1
	for _, n := range ctx.modelTypes[1:] {
		ctx.report(n, ports.SeverityError, CodeMultipleModelTypes,
			"model type %s conflicts with %s on line %d",
			nodeText(n, ctx.source), nodeText(first, ctx.source), firstLine)
	}
}

// checkRenamedModules: "module m2 = m1 [...]" requires m1 to exist.
func (ctx *checkContext) checkRenamedModules() {
	for _, r := range ctx.renamed {
		base := nodeText(r.base, ctx.source)
		switch {
		case base == r.name:
			ctx.report(r.base, ports.SeverityError, CodeUnknownBase,
				"module %q cannot be renamed from itself", r.name)
		case !ctx.isDeclared(nsModule, base):
			ctx.report(r.base, ports.SeverityError, CodeUnknownBase,
				"module %q renames undefined module %q", r.name, base)
		}
	}
}

// checkPlayers: owned modules must exist and belong to a single player.
func (ctx *checkContext) checkPlayers() {
	owner := make(map[string]string)
	for _, o := range ctx.owned {
		module := nodeText(o.id, ctx.source)
		if !ctx.isDeclared(nsModule, module) {
			ctx.report(o.id, ports.SeverityError, CodeUnknownOwned,
				"player %q owns undefined module %q", o.player, module)
			continue
		}
		if prev, ok := owner[module]; ok && prev != o.player {
			ctx.report(o.id, ports.SeverityError, CodeMultipleOwners,
				"module %q is already owned by player %q", module, prev)
			continue
		}
		owner[module] = o.player
	}
}
