package access

import (
	"sort"
	"strings"
)

// RouteRule maps a route prefix to the module/action required to enter it.
type RouteRule struct {
	Prefix string
	Module Module
	Action Action
}

// RouteTable holds the static route rules, immutable after construction.
type RouteTable struct {
	rules []RouteRule
}

// NewRouteTable builds a table; rules are ordered longest prefix first so
// Match picks the most specific rule.
func NewRouteTable(rules []RouteRule) *RouteTable {
	sorted := make([]RouteRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Prefix) > len(sorted[j].Prefix)
	})
	return &RouteTable{rules: sorted}
}

// DefaultRoutes is the application route map. The dashboard and other landing
// surfaces are intentionally absent: unmapped routes are allowed.
func DefaultRoutes() []RouteRule {
	return []RouteRule{
		{Prefix: "/people/natural", Module: ModulePessoaFisica, Action: ActionVisualizar},
		{Prefix: "/people/legal", Module: ModulePessoaJuridica, Action: ActionVisualizar},
		{Prefix: "/people", Module: ModulePessoaFisica, Action: ActionVisualizar},
		{Prefix: "/clients", Module: ModuleCliente, Action: ActionVisualizar},
		{Prefix: "/contracts", Module: ModuleContrato, Action: ActionVisualizar},
		{Prefix: "/advisors", Module: ModuleConsultor, Action: ActionVisualizar},
		{Prefix: "/users", Module: ModuleUsuario, Action: ActionVisualizar},
		{Prefix: "/partners", Module: ModuleParceiro, Action: ActionVisualizar},
		{Prefix: "/billing", Module: ModuleCobranca, Action: ActionVisualizar},
		{Prefix: "/invoices", Module: ModuleFatura, Action: ActionVisualizar},
		{Prefix: "/branches", Module: ModuleFilial, Action: ActionVisualizar},
	}
}

// Match finds the longest rule prefix covering path.
func (t *RouteTable) Match(path string) (RouteRule, bool) {
	for _, r := range t.rules {
		if strings.HasPrefix(path, r.Prefix) {
			return r, true
		}
	}
	return RouteRule{}, false
}

// CanAccess decides navigation-time access for a path. Unmapped routes are
// allowed: the landing dashboard and auxiliary screens carry no capability
// requirement, and that exception is deliberate, not a fallback bug.
func (t *RouteTable) CanAccess(e *Evaluator, path string) bool {
	rule, ok := t.Match(path)
	if !ok {
		return true
	}
	return e.HasPermission(rule.Module, rule.Action)
}

// MenuItem is a navigable menu entry. Items without a Module are
// unconditional (e.g. the dashboard link).
type MenuItem struct {
	Label  string `json:"label"`
	Path   string `json:"path"`
	Module Module `json:"-"`
	Action Action `json:"-"`
}

// MenuSection groups related menu items.
type MenuSection struct {
	Label string     `json:"label"`
	Items []MenuItem `json:"items"`
}

// DefaultMenu is the full navigation tree before per-user filtering.
func DefaultMenu() []MenuSection {
	return []MenuSection{
		{Label: "Início", Items: []MenuItem{
			{Label: "Dashboard", Path: "/dashboard"},
		}},
		{Label: "Cadastros", Items: []MenuItem{
			{Label: "Pessoas Físicas", Path: "/people/natural", Module: ModulePessoaFisica, Action: ActionVisualizar},
			{Label: "Pessoas Jurídicas", Path: "/people/legal", Module: ModulePessoaJuridica, Action: ActionVisualizar},
			{Label: "Clientes", Path: "/clients", Module: ModuleCliente, Action: ActionVisualizar},
			{Label: "Contratos", Path: "/contracts", Module: ModuleContrato, Action: ActionVisualizar},
			{Label: "Consultores", Path: "/advisors", Module: ModuleConsultor, Action: ActionVisualizar},
		}},
		{Label: "Financeiro", Items: []MenuItem{
			{Label: "Cobrança", Path: "/billing", Module: ModuleCobranca, Action: ActionVisualizar},
			{Label: "Faturas", Path: "/invoices", Module: ModuleFatura, Action: ActionVisualizar},
		}},
		{Label: "Administração", Items: []MenuItem{
			{Label: "Usuários", Path: "/users", Module: ModuleUsuario, Action: ActionVisualizar},
			{Label: "Parceiros", Path: "/partners", Module: ModuleParceiro, Action: ActionVisualizar},
			{Label: "Filiais", Path: "/branches", Module: ModuleFilial, Action: ActionVisualizar},
		}},
	}
}

// FilterMenu prunes entries the user cannot open and then drops sections left
// empty, so the UI never renders an empty group.
func FilterMenu(e *Evaluator, sections []MenuSection) []MenuSection {
	out := make([]MenuSection, 0, len(sections))
	for _, sec := range sections {
		items := make([]MenuItem, 0, len(sec.Items))
		for _, item := range sec.Items {
			if item.Module == "" || e.HasPermission(item.Module, item.Action) {
				items = append(items, item)
			}
		}
		if len(items) == 0 {
			continue
		}
		out = append(out, MenuSection{Label: sec.Label, Items: items})
	}
	return out
}
