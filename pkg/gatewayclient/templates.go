package gatewayclient

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/transfa/openbanking-service/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed default_templates.yaml
var defaultTemplates []byte

// LoadTemplates parses the payment templates at path, or the embedded defaults
// when path is empty.
func LoadTemplates(path string) (domain.PaymentTemplates, error) {
	data := defaultTemplates
	if path != "" {
		fileData, err := os.ReadFile(path)
		if err != nil {
			return domain.PaymentTemplates{}, fmt.Errorf("failed to read payment templates %s: %w", path, err)
		}
		data = fileData
	}

	var templates domain.PaymentTemplates
	if err := yaml.Unmarshal(data, &templates); err != nil {
		return domain.PaymentTemplates{}, fmt.Errorf("failed to parse payment templates: %w", err)
	}
	if len(templates.PaymentInitiation.InstructionsInfo) == 0 {
		return domain.PaymentTemplates{}, fmt.Errorf("payment templates: payment_initiation needs at least one instruction")
	}
	return templates, nil
}

// BuildPaymentPlanRequest fills the plan template with amount.
func BuildPaymentPlanRequest(tmpl domain.PaymentPlanRequest, amount decimal.Decimal) domain.PaymentPlanRequest {
	req := tmpl
	req.PaymentDetails.SetAmount.Amount = amount
	req.PaymentDetails.RecurringPaymentAmount.Amount = amount
	return req
}

// BuildPaymentInitiationRequest fills the initiation template with the plan,
// block and amount. Empty template dates are set to now's date.
func BuildPaymentInitiationRequest(tmpl domain.PaymentInitiationRequest, paymentPlanID, blockID string, amount decimal.Decimal, now time.Time) domain.PaymentInitiationRequest {
	today := now.UTC().Format(time.DateOnly)

	req := tmpl
	req.GroupHeader.TotalTrxAmount.Amount = amount
	if req.GroupHeader.CreationDateTime == "" {
		req.GroupHeader.CreationDateTime = today
	}

	req.InstructionsInfo = make([]domain.InstructionInfo, len(tmpl.InstructionsInfo))
	copy(req.InstructionsInfo, tmpl.InstructionsInfo)
	for i := range req.InstructionsInfo {
		instr := &req.InstructionsInfo[i]
		instr.Identifications.BlockID = blockID
		instr.Identifications.PaymentPlanID = paymentPlanID
		instr.TrxAmount.Amount = amount
		if instr.TrxPresDateTime == "" {
			instr.TrxPresDateTime = today
		}
	}
	return req
}
