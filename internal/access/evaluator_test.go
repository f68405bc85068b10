package access

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func primedEvaluator(t *testing.T, status UserStatus) (*Evaluator, *stubGrantSource) {
	t.Helper()
	source := &stubGrantSource{}
	source.setStatus(status)
	store := NewStore(source, time.Minute, nil)
	eval := NewEvaluator(store, 7)
	require.NoError(t, eval.Refresh(context.Background()))
	return eval, source
}

func TestHasPermissionFailsClosedWithoutSnapshot(t *testing.T) {
	source := &stubGrantSource{}
	eval := NewEvaluator(NewStore(source, time.Minute, nil), 7)

	require.False(t, eval.HasPermission(ModuleCliente, ActionVisualizar))
	require.False(t, eval.HasPermission(ModuleDashboard, ActionVisualizar))
	require.True(t, eval.IsReadOnly(ModuleCliente))
	require.True(t, eval.IsBranchOnly(ModuleCliente))
}

func TestHasPermissionRequiresGrantAndPolicy(t *testing.T) {
	eval, _ := primedEvaluator(t, UserStatus{
		GroupName: "Consultores",
		Grants:    []string{"Cliente_Visualizar", "Contrato_Editar"},
	})

	// Grant present and policy allows.
	require.True(t, eval.HasPermission(ModuleCliente, ActionVisualizar))
	require.True(t, eval.HasPermission(ModuleContrato, ActionEditar))

	// Policy allows but the grant is missing.
	require.False(t, eval.HasPermission(ModulePessoaFisica, ActionVisualizar))
}

func TestAdvisorScopeBlocksCreateAndDelete(t *testing.T) {
	// The authority handed out create/delete grants the advisor rule caps at
	// view and edit; the scope wins over the flat grant.
	eval, _ := primedEvaluator(t, UserStatus{
		GroupName: "Consultores",
		Grants: []string{
			"PessoaFisica_Visualizar", "PessoaFisica_Editar", "PessoaFisica_Excluir",
			"Contrato_Criar", "Contrato_Editar",
		},
	})

	require.True(t, eval.HasPermission(ModulePessoaFisica, ActionVisualizar))
	require.True(t, eval.HasPermission(ModulePessoaFisica, ActionEditar))
	require.False(t, eval.HasPermission(ModulePessoaFisica, ActionExcluir))
	require.False(t, eval.HasPermission(ModuleContrato, ActionCriar))
	require.True(t, eval.HasPermission(ModuleContrato, ActionEditar))
}

func TestPolicyDenyOverridesGrant(t *testing.T) {
	// The authority handed out a grant the group rule forbids; the deny wins.
	eval, _ := primedEvaluator(t, UserStatus{
		GroupName: "Consultores",
		Grants:    []string{"Cobranca_Visualizar"},
	})
	require.False(t, eval.HasPermission(ModuleCobranca, ActionVisualizar))
}

func TestReadOnlyScopeBlocksMutations(t *testing.T) {
	eval, _ := primedEvaluator(t, UserStatus{
		GroupName: "Cobrança e Financeiro",
		Grants:    []string{"Cobranca_Visualizar", "Cobranca_Editar"},
	})

	require.True(t, eval.HasPermission(ModuleCobranca, ActionVisualizar))
	require.False(t, eval.HasPermission(ModuleCobranca, ActionEditar))
	require.True(t, eval.IsReadOnly(ModuleCobranca))
}

func TestBranchScopeIsReported(t *testing.T) {
	eval, _ := primedEvaluator(t, UserStatus{
		GroupName: "Gerente de Filial",
		Branch:    "Recife",
		Grants:    []string{"Cliente_Editar"},
	})

	require.True(t, eval.HasPermission(ModuleCliente, ActionEditar))
	require.True(t, eval.IsBranchOnly(ModuleCliente))
	require.False(t, eval.IsReadOnly(ModuleCliente))
}

func TestRefreshPicksUpNewGrants(t *testing.T) {
	eval, source := primedEvaluator(t, UserStatus{
		GroupName: "Administrador",
		Grants:    []string{"Usuario_Visualizar"},
	})
	require.False(t, eval.HasPermission(ModuleUsuario, ActionCriar))

	source.setStatus(UserStatus{
		GroupName: "Administrador",
		Grants:    []string{"Usuario_Visualizar", "Usuario_Criar"},
	})
	require.NoError(t, eval.Refresh(context.Background()))
	require.True(t, eval.HasPermission(ModuleUsuario, ActionCriar))
}

func TestEvaluatorsLifecycle(t *testing.T) {
	reg := NewEvaluators()
	source := &stubGrantSource{}
	source.setStatus(UserStatus{GroupName: "Administrador", Grants: []string{"Cliente_Visualizar"}})
	store := NewStore(source, time.Minute, nil)
	eval := NewEvaluator(store, 7)
	require.NoError(t, eval.Refresh(context.Background()))

	reg.Put(7, eval)
	got, ok := reg.Get(7)
	require.True(t, ok)
	require.Same(t, eval, got)

	reg.Remove(7)
	_, ok = reg.Get(7)
	require.False(t, ok)

	// Removal invalidates the store: the evaluator fails closed afterwards.
	require.False(t, eval.HasPermission(ModuleCliente, ActionVisualizar))

	// Removing an absent user is a no-op.
	reg.Remove(99)
}
