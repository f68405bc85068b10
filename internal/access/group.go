package access

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Group is the single access-level classification assigned to a user. The set
// is closed: every policy rule lives in Decide and nothing else in the
// codebase is allowed to match on group names.
type Group int

const (
	// GroupUnassigned is the fail-closed default for missing or unknown groups.
	GroupUnassigned Group = iota
	GroupAdministrator
	GroupAdvisor
	GroupBranchAdminReadOnly
	GroupBranchManager
	GroupBillingReadOnly
	GroupInvoicing
)

// AllGroups enumerates every group variant, for exhaustiveness checks.
func AllGroups() []Group {
	return []Group{
		GroupUnassigned,
		GroupAdministrator,
		GroupAdvisor,
		GroupBranchAdminReadOnly,
		GroupBranchManager,
		GroupBillingReadOnly,
		GroupInvoicing,
	}
}

// String returns the canonical display name.
func (g Group) String() string {
	switch g {
	case GroupAdministrator:
		return "Administrador"
	case GroupAdvisor:
		return "Consultores"
	case GroupBranchAdminReadOnly:
		return "Administrador de Filial"
	case GroupBranchManager:
		return "Gerente de Filial"
	case GroupBillingReadOnly:
		return "Cobrança e Financeiro"
	case GroupInvoicing:
		return "Faturamento"
	default:
		return "Sem Grupo"
	}
}

// The identity authority is not consistent about spelling: group names arrive
// with and without diacritics and with variant connectives ("Cobrança e
// Financeiro" vs "Cobrança/Financeiro"). All known spellings are normalized to
// one enum value here, at the boundary, so a misspelled variant can never
// silently fall through to a different rule.
var groupAliases = map[string]Group{
	"administrador":         GroupAdministrator,
	"administradores":       GroupAdministrator,
	"consultor":             GroupAdvisor,
	"consultores":           GroupAdvisor,
	"administradordefilial": GroupBranchAdminReadOnly,
	"administracaodefilial": GroupBranchAdminReadOnly,
	"gerentedefilial":       GroupBranchManager,
	"gerenciadefilial":      GroupBranchManager,
	"cobrancaefinanceiro":   GroupBillingReadOnly,
	"cobrancafinanceiro":    GroupBillingReadOnly,
	"faturamento":           GroupInvoicing,
}

// ParseGroup maps a raw group name from the identity authority to a Group.
// Unknown or empty names resolve to GroupUnassigned, never to an allow-all
// default.
func ParseGroup(raw string) Group {
	key := normalizeGroupName(raw)
	if g, ok := groupAliases[key]; ok {
		return g
	}
	return GroupUnassigned
}

var stripDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

func normalizeGroupName(raw string) string {
	folded, _, err := transform.String(stripDiacritics, strings.ToLower(strings.TrimSpace(raw)))
	if err != nil {
		folded = strings.ToLower(raw)
	}
	var b strings.Builder
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
