package treesitter

import (
	"strconv"
	"strings"
	"unicode/utf8"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

// Symbol kinds produced by the outline.
const (
	SymModel    = "model"
	SymConst    = "const"
	SymGlobal   = "global"
	SymFormula  = "formula"
	SymLabel    = "label"
	SymPlayer   = "player"
	SymModule   = "module"
	SymVariable = "variable"
	SymAction   = "action"
	SymRewards  = "rewards"
	SymProperty = "property"
)

// maxSignature bounds signatures built from declaration text.
const maxSignature = 120

// extractOutline walks the top-level declarations of a source_file.
// Declarations swallowed by ERROR nodes are skipped.
func extractOutline(root *tree_sitter.Node, source []byte) []Symbol {
	var symbols []Symbol
	props := 0
	for i := uint(0); i < uint(root.ChildCount()); i++ {
		child := root.Child(i)
		switch child.Kind() {
		case "model_type_declaration":
			kw := nodeText(child, source)
			symbols = append(symbols, newSymbol(child, kw, kw, SymModel, ""))
		case "const_declaration":
			if name := fieldText(child, "name", source); name != "" {
				symbols = append(symbols, newSymbol(child, name, signature(child, source), SymConst, ""))
			}
		case "global_declaration":
			if v := childByKind(child, "variable_declaration"); v != nil {
				if name := fieldText(v, "name", source); name != "" {
					symbols = append(symbols, newSymbol(child, name, signature(child, source), SymGlobal, ""))
				}
			}
		case "formula_declaration":
			if name := fieldText(child, "name", source); name != "" {
				symbols = append(symbols, newSymbol(child, name, signature(child, source), SymFormula, ""))
			}
		case "label_declaration":
			if name := fieldText(child, "name", source); name != "" {
				symbols = append(symbols, newSymbol(child, name, signature(child, source), SymLabel, ""))
			}
		case "player_declaration":
			if name := fieldText(child, "name", source); name != "" {
				sig := strings.TrimSuffix(signature(child, source), " endplayer")
				symbols = append(symbols, newSymbol(child, name, sig, SymPlayer, ""))
			}
		case "module_declaration":
			symbols = append(symbols, extractModule(child, source)...)
		case "reward_declaration":
			if name := fieldText(child, "name", source); name != "" {
				symbols = append(symbols, newSymbol(child, name, `rewards "`+name+`"`, SymRewards, ""))
			}
		case "state_formula":
			props++
			symbols = append(symbols, newSymbol(child, "#"+strconv.Itoa(props), signature(child, source), SymProperty, ""))
		}
	}
	return symbols
}

// extractModule emits the module, then its variables and distinct actions
// with the module as parent.
func extractModule(n *tree_sitter.Node, source []byte) []Symbol {
	name := fieldText(n, "name", source)
	if name == "" {
		return nil
	}

	sig := "module " + name
	if base := fieldText(n, "instantiated_from", source); base != "" {
		sig = strings.TrimSuffix(signature(n, source), " endmodule")
	}
	symbols := []Symbol{newSymbol(n, name, sig, SymModule, "")}

	for _, v := range childrenByKind(n, "variable_declaration") {
		if vname := fieldText(v, "name", source); vname != "" {
			symbols = append(symbols, newSymbol(v, vname, signature(v, source), SymVariable, name))
		}
	}

	seen := make(map[string]bool)
	for _, cmd := range childrenByKind(n, "command") {
		actions := cmd.ChildByFieldName("actions")
		if actions == nil {
			continue
		}
		for _, id := range childrenByKind(actions, "identifier") {
			action := nodeText(id, source)
			if seen[action] {
				continue
			}
			seen[action] = true
			symbols = append(symbols, newSymbol(cmd, action, "["+action+"]", SymAction, name))
		}
	}
	return symbols
}

func newSymbol(n *tree_sitter.Node, name, sig, kind, parent string) Symbol {
	return Symbol{
		Name:      name,
		Signature: sig,
		Kind:      kind,
		StartLine: uint32(n.StartPosition().Row + 1),
		EndLine:   uint32(n.EndPosition().Row + 1),
		Parent:    parent,
	}
}

// signature is the node text with whitespace collapsed and the trailing
// semicolon dropped, truncated to maxSignature bytes.
func signature(n *tree_sitter.Node, source []byte) string {
	return compact(nodeText(n, source), maxSignature)
}

func compact(text string, limit int) string {
	s := strings.Join(strings.Fields(text), " ")
	s = strings.TrimSuffix(s, ";")
	s = strings.TrimSpace(s)
	if limit > 0 && len(s) > limit {
		cut := limit - 3
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "..."
	}
	return s
}
