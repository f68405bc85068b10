package access

// Effect is the outcome class of a policy decision.
type Effect int

const (
	// EffectDeny blocks the module outright regardless of held grants.
	EffectDeny Effect = iota
	// EffectAllow imposes no group-level restriction.
	EffectAllow
	// EffectAllowScoped allows the module under the restrictions in ScopeFlags.
	EffectAllowScoped
)

// ScopeFlags narrow a grant. They refine, never widen.
type ScopeFlags struct {
	ReadOnly       bool
	BranchOnly     bool
	OwnRecordsOnly bool
	// ViewEditOnly restricts the module to Visualizar and Editar; Criar and
	// Excluir are blocked even when the flat grant is present.
	ViewEditOnly bool
	Statuses     []string
}

// Decision is the result of applying the group rule table to a module.
type Decision struct {
	Effect Effect
	Scope  ScopeFlags
}

func deny() Decision  { return Decision{Effect: EffectDeny} }
func allow() Decision { return Decision{Effect: EffectAllow} }
func scoped(f ScopeFlags) Decision {
	return Decision{Effect: EffectAllowScoped, Scope: f}
}

// Decide applies the per-group rule table. It is the single source of truth
// for group policy: total over all (Group, Module) pairs, deterministic, and
// fail closed. An unknown group value takes the Unassigned rule.
//
// The dashboard is the default landing resource and stays reachable for every
// group; everything else is governed by the group rule.
func Decide(g Group, m Module) Decision {
	if m == ModuleDashboard {
		return allow()
	}
	switch g {
	case GroupAdministrator:
		return allow()

	case GroupAdvisor:
		switch m {
		case ModulePessoaFisica, ModulePessoaJuridica, ModuleContrato:
			// View and edit only; a stray Criar or Excluir grant from the
			// authority must not widen this.
			return scoped(ScopeFlags{ViewEditOnly: true})
		case ModuleCliente:
			return scoped(ScopeFlags{ReadOnly: true})
		default:
			return deny()
		}

	case GroupBranchAdminReadOnly:
		switch m {
		case ModuleConsultor, ModuleCliente, ModuleContrato:
			return scoped(ScopeFlags{ReadOnly: true, BranchOnly: true})
		default:
			// Usuario and Parceiro are explicitly denied for this group;
			// anything unlisted falls closed with them.
			return deny()
		}

	case GroupBranchManager:
		if m == ModuleUsuario {
			return deny()
		}
		return scoped(ScopeFlags{BranchOnly: true})

	case GroupBillingReadOnly:
		if m == ModuleUsuario {
			return deny()
		}
		return scoped(ScopeFlags{ReadOnly: true})

	case GroupInvoicing:
		if m == ModuleUsuario {
			return deny()
		}
		return allow()

	case GroupUnassigned:
		return deny()

	default:
		return deny()
	}
}
