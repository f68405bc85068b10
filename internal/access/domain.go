package access

// Module identifies a business entity area subject to capability checks.
// The wire representation matches the identity authority's grant strings
// ("Usuario_Visualizar" grants ModuleUsuario + ActionVisualizar).
type Module string

const (
	ModuleDashboard      Module = "Dashboard"
	ModulePessoaFisica   Module = "PessoaFisica"
	ModulePessoaJuridica Module = "PessoaJuridica"
	ModuleCliente        Module = "Cliente"
	ModuleContrato       Module = "Contrato"
	ModuleConsultor      Module = "Consultor"
	ModuleUsuario        Module = "Usuario"
	ModuleParceiro       Module = "Parceiro"
	ModuleCobranca       Module = "Cobranca"
	ModuleFatura         Module = "Fatura"
	ModuleFilial         Module = "Filial"
)

// AllModules enumerates every module, for exhaustiveness checks.
func AllModules() []Module {
	return []Module{
		ModuleDashboard,
		ModulePessoaFisica,
		ModulePessoaJuridica,
		ModuleCliente,
		ModuleContrato,
		ModuleConsultor,
		ModuleUsuario,
		ModuleParceiro,
		ModuleCobranca,
		ModuleFatura,
		ModuleFilial,
	}
}

// Action is a CRUD-style verb applied to a module.
type Action string

const (
	ActionVisualizar Action = "Visualizar"
	ActionCriar      Action = "Criar"
	ActionEditar     Action = "Editar"
	ActionExcluir    Action = "Excluir"
)

// Mutates reports whether the action changes data. Read-only scoping denies
// exactly these.
func (a Action) Mutates() bool {
	return a == ActionCriar || a == ActionEditar || a == ActionExcluir
}

// GrantKey is the wire form of a capability grant as issued by the identity
// authority.
func GrantKey(m Module, a Action) string {
	return string(m) + "_" + string(a)
}
