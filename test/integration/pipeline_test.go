package integration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/saudeplus/tiss/internal/domain/batch"
	"github.com/saudeplus/tiss/internal/domain/claim"
	"github.com/saudeplus/tiss/internal/domain/convenio"
	"github.com/saudeplus/tiss/internal/domain/financial"
	"github.com/saudeplus/tiss/internal/domain/glosa"
	"github.com/saudeplus/tiss/internal/domain/retorno"
	"github.com/saudeplus/tiss/internal/domain/tissconfig"
	"github.com/saudeplus/tiss/internal/platform/db"
	"github.com/saudeplus/tiss/internal/platform/errs"
	"github.com/saudeplus/tiss/internal/platform/events"
)

type pipeline struct {
	convenios *convenio.Service
	claims    *claim.Service
	batches   *batch.Service
	glosas    *glosa.Service
	bridge    *financial.Bridge
	returns   *retorno.Service
}

func newPipeline() *pipeline {
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	emitter := events.NewEmitter(events.NewOutboxRepoPG(testPool))

	convenioSvc := convenio.NewService(convenio.NewRepoPG(testPool), logger)
	configSvc := tissconfig.NewService(tissconfig.NewRepoPG(testPool))

	inTx := func(ctx context.Context, fn func(ctx context.Context) error) error {
		if db.TxFromContext(ctx) != nil {
			return fn(ctx)
		}
		return db.WithTx(ctx, testPool, fn)
	}

	claimRepo := claim.NewRepoPG(testPool)
	claimSvc := claim.NewService(claimRepo, convenioSvc, configSvc, emitter, inTx, logger)

	batchSvc := batch.NewService(batch.NewRepoPG(testPool), claimRepo, claimSvc, convenioSvc, emitter, inTx, logger)

	glosaSvc := glosa.NewService(glosa.NewRepoPG(testPool), emitter, inTx, logger)

	bridge := financial.NewBridge(financial.NewLedgerPG(testPool), financial.NewPendingRepoPG(testPool), logger)

	returnSvc := retorno.NewService(retorno.NewRepoPG(testPool), claimSvc, glosaSvc, bridge, batchSvc, convenioSvc, emitter, logger)

	return &pipeline{
		convenios: convenioSvc,
		claims:    claimSvc,
		batches:   batchSvc,
		glosas:    glosaSvc,
		bridge:    bridge,
		returns:   returnSvc,
	}
}

func createAcme(t *testing.T, ctx context.Context, p *pipeline) *convenio.Convenio {
	t.Helper()
	c := &convenio.Convenio{
		Name:            "Acme Health",
		ANSCode:         "123456",
		CNPJ:            "11222333000181",
		TableMode:       convenio.TableTUSS,
		PaymentTermDays: 30,
		Active:          true,
	}
	if err := p.convenios.Create(ctx, c); err != nil {
		t.Fatalf("create convenio: %v", err)
	}
	return c
}

func createFinalizedClaim(t *testing.T, ctx context.Context, p *pipeline, convenioID uuid.UUID, unitPrice float64) *claim.Guia {
	t.Helper()
	g := &claim.Guia{
		Kind:                claim.KindConsulta,
		ConvenioID:          convenioID,
		PatientName:         "Maria da Silva",
		PatientCard:         "987654321",
		ProfessionalName:    "Dr. Joao Souza",
		ProfessionalLicense: "CRM-12345",
		DiagnosisCode:       "Z00.0",
		Lines: []claim.ProcedureLine{{
			Code:        "10101012",
			Description: "Consulta em consultorio",
			Quantity:    1,
			UnitPrice:   unitPrice,
			ServiceDate: time.Now().AddDate(0, 0, -1),
		}},
	}
	if err := p.claims.Create(ctx, g); err != nil {
		t.Fatalf("create claim: %v", err)
	}
	finalized, err := p.claims.Finalize(ctx, g.ID)
	if err != nil {
		t.Fatalf("finalize claim: %v", err)
	}
	return finalized
}

// TestBillingPipeline runs the full lifecycle: payer setup, claim
// authoring, batching, submission, return processing and financial
// projection.
func TestBillingPipeline(t *testing.T) {
	ctx := context.Background()
	truncateAll(t, ctx)
	p := newPipeline()

	acme := createAcme(t, ctx, p)
	g := createFinalizedClaim(t, ctx, p, acme.ID, 300.00)
	if g.TotalAmount != 300.00 {
		t.Fatalf("expected claim total 300.00, got %v", g.TotalAmount)
	}

	l := &batch.Lote{ConvenioID: acme.ID, Competence: "01/2026"}
	if err := p.batches.Create(ctx, l); err != nil {
		t.Fatalf("create lote: %v", err)
	}

	l, err := p.batches.AddClaims(ctx, l.ID, []uuid.UUID{g.ID})
	if err != nil {
		t.Fatalf("add claims: %v", err)
	}
	if l.TotalAmount != 300.00 || l.ClaimCount != 1 {
		t.Fatalf("expected lote total 300.00 with 1 claim, got %v/%d", l.TotalAmount, l.ClaimCount)
	}

	if _, err := p.batches.Close(ctx, l.ID); err != nil {
		t.Fatalf("close lote: %v", err)
	}
	if _, err := p.batches.Submit(ctx, l.ID, "P-001"); err != nil {
		t.Fatalf("submit lote: %v", err)
	}

	submitted, err := p.claims.Get(ctx, g.ID)
	if err != nil {
		t.Fatalf("reload claim: %v", err)
	}
	if submitted.Status != claim.StatusSubmitted {
		t.Fatalf("expected claim SUBMITTED after batch submission, got %s", submitted.Status)
	}

	doc := fmt.Sprintf(`<retornoLote>
	  <numeroProtocolo>P-001</numeroProtocolo>
	  <guia>
	    <numeroGuiaPrestador>%s</numeroGuiaPrestador>
	    <situacaoGuia>PAGO</situacaoGuia>
	    <valorPago>300.00</valorPago>
	  </guia>
	</retornoLote>`, g.Numero)

	rt, err := p.returns.Process(ctx, l.ID, []byte(doc))
	if err != nil {
		t.Fatalf("process return: %v", err)
	}
	if rt.Status != retorno.StatusProcessed || rt.PaidAmount != 300.00 {
		t.Fatalf("unexpected return record %+v", rt)
	}

	paid, err := p.claims.Get(ctx, g.ID)
	if err != nil {
		t.Fatalf("reload claim: %v", err)
	}
	if paid.Status != claim.StatusPaid {
		t.Fatalf("expected claim PAID, got %s", paid.Status)
	}
	if paid.PaidAmount == nil || *paid.PaidAmount != 300.00 {
		t.Fatalf("expected paid amount 300.00, got %v", paid.PaidAmount)
	}

	// Exactly one ledger pair.
	txs, total, err := p.bridge.ListTransactions(ctx, &g.ID, 10, 0)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if total != 1 || txs[0].Amount != 300.00 {
		t.Fatalf("expected one income entry of 300.00, got %d", total)
	}
	recs, total, err := p.bridge.ListReceivables(ctx, &g.ID, 10, 0)
	if err != nil {
		t.Fatalf("list receivables: %v", err)
	}
	if total != 1 || recs[0].ReceiptRef == "" {
		t.Fatalf("expected one receivable with receipt reference, got %d", total)
	}

	// Reprocessing the same protocol must not double-count.
	again, err := p.returns.Process(ctx, l.ID, []byte(doc))
	if err != nil {
		t.Fatalf("reprocess return: %v", err)
	}
	if again.ID != rt.ID {
		t.Fatal("expected dedupe to return the original record")
	}
	_, total, err = p.bridge.ListTransactions(ctx, &g.ID, 10, 0)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if total != 1 {
		t.Fatalf("reprocessing doubled the ledger, got %d entries", total)
	}

	// The paid claim is no longer eligible for another batch.
	other := &batch.Lote{ConvenioID: acme.ID, Competence: "02/2026"}
	if err := p.batches.Create(ctx, other); err != nil {
		t.Fatalf("create second lote: %v", err)
	}
	_, err = p.batches.AddClaims(ctx, other.ID, []uuid.UUID{g.ID})
	var ce *errs.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConflictError adding a processed claim, got %v", err)
	}
}

// TestDenialWorkflow covers the glosa path from return ingestion through
// contestation.
func TestDenialWorkflow(t *testing.T) {
	ctx := context.Background()
	truncateAll(t, ctx)
	p := newPipeline()

	acme := createAcme(t, ctx, p)
	g := createFinalizedClaim(t, ctx, p, acme.ID, 50.00)

	l := &batch.Lote{ConvenioID: acme.ID, Competence: "01/2026"}
	if err := p.batches.Create(ctx, l); err != nil {
		t.Fatalf("create lote: %v", err)
	}
	if _, err := p.batches.AddClaims(ctx, l.ID, []uuid.UUID{g.ID}); err != nil {
		t.Fatalf("add claims: %v", err)
	}
	if _, err := p.batches.Close(ctx, l.ID); err != nil {
		t.Fatalf("close lote: %v", err)
	}
	if _, err := p.batches.Submit(ctx, l.ID, "P-002"); err != nil {
		t.Fatalf("submit lote: %v", err)
	}

	doc := fmt.Sprintf(`<retornoLote>
	  <protocolo>P-002</protocolo>
	  <guia>
	    <numeroGuia>%s</numeroGuia>
	    <status>GLOSADO</status>
	    <valorGlosa>50.00</valorGlosa>
	    <glosa>
	      <codigoGlosa>1802</codigoGlosa>
	      <descricaoGlosa>Cobranca em duplicidade</descricaoGlosa>
	      <valorGlosado>50,00</valorGlosado>
	    </glosa>
	  </guia>
	</retornoLote>`, g.Numero)

	if _, err := p.returns.Process(ctx, l.ID, []byte(doc)); err != nil {
		t.Fatalf("process return: %v", err)
	}

	denied, err := p.claims.Get(ctx, g.ID)
	if err != nil {
		t.Fatalf("reload claim: %v", err)
	}
	if denied.Status != claim.StatusDenied {
		t.Fatalf("expected claim DENIED, got %s", denied.Status)
	}

	guiaID := g.ID
	glosas, total, err := p.glosas.List(ctx, glosa.ListFilter{GuiaID: &guiaID}, 10, 0)
	if err != nil {
		t.Fatalf("list glosas: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected one glosa, got %d", total)
	}
	gl := glosas[0]
	if gl.Status != glosa.StatusPending || gl.Amount != 50.00 {
		t.Fatalf("unexpected glosa %+v", gl)
	}
	if gl.DaysRemaining < 29 || gl.DaysRemaining > 30 {
		t.Fatalf("expected ~30 days remaining, got %d", gl.DaysRemaining)
	}

	contested, err := p.glosas.Contest(ctx, gl.ID, "Procedimento autorizado previamente", []string{"doc://autorizacao-99"})
	if err != nil {
		t.Fatalf("contest glosa: %v", err)
	}
	if contested.Status != glosa.StatusContested || contested.ContestationProtocol == nil {
		t.Fatalf("unexpected contested glosa %+v", contested)
	}

	settlement := 50.00
	resolved, err := p.glosas.Resolve(ctx, gl.ID, glosa.StatusReversed, &settlement)
	if err != nil {
		t.Fatalf("resolve glosa: %v", err)
	}
	if resolved.Status != glosa.StatusReversed {
		t.Fatalf("expected REVERSED, got %s", resolved.Status)
	}

	// Reversed denial: the claim is corrected to PAID explicitly.
	corrected, err := p.claims.CorrectToPaid(ctx, g.ID, 50.00)
	if err != nil {
		t.Fatalf("correct to paid: %v", err)
	}
	if corrected.Status != claim.StatusPaid {
		t.Fatalf("expected claim PAID after correction, got %s", corrected.Status)
	}
}
