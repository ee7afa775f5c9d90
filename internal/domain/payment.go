/**
 * @description
 * This file defines the Go structs that map to the Payment Initiation Services
 * (PIS) endpoints of the Open-Banking gateway: payment plans, their settlement
 * blocks, and payment initiation instructions.
 *
 * @notes
 * - Request bodies are filled from externally supplied templates (see
 *   pkg/gatewayclient/templates.go); only amounts and identifiers vary per call.
 * - Amounts are decimals so that "10.00" and 10 decode to the same value.
 */
package domain

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
)

// ErrNoBlockToken is returned by TokenClaims when a block carries no token.
var ErrNoBlockToken = errors.New("settlement block has no token")

// --- Shared building blocks ---

// Money is an amount in a currency.
type Money struct {
	Amount   decimal.Decimal `json:"amount" yaml:"-"`
	Currency string          `json:"currency" yaml:"currency"`
}

// KeyValue is a free-form additional info entry.
type KeyValue struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// CountryInfo identifies a country.
type CountryInfo struct {
	CountryCode string `json:"countryCode" yaml:"countryCode"`
	CountryName string `json:"countryName" yaml:"countryName"`
}

// PostalAddress is the gateway's address shape.
type PostalAddress struct {
	AddressLines []string    `json:"addresslines" yaml:"addresslines"`
	City         string      `json:"city" yaml:"city"`
	CountryInfo  CountryInfo `json:"countryInfo" yaml:"countryInfo"`
	Postcode     string      `json:"postcode" yaml:"postcode"`
	State        string      `json:"state" yaml:"state"`
}

// Route addresses an account or agent within a scheme.
type Route struct {
	Address string `json:"address" yaml:"address"`
	Schema  string `json:"schema" yaml:"schema"`
}

// PaymentAccount is an account taking part in a payment.
type PaymentAccount struct {
	AccountAgentParty string `json:"accountAgentParty" yaml:"accountAgentParty"`
	AccountType       string `json:"accountType" yaml:"accountType"`
	MainRoute         Route  `json:"mainRoute" yaml:"mainRoute"`
}

// Agent is a financial institution acting for a party.
type Agent struct {
	AdditionalInfo      []KeyValue    `json:"additionalInfo" yaml:"additionalInfo"`
	Address             PostalAddress `json:"address" yaml:"address"`
	AgentIdentification Route         `json:"agentIdentification" yaml:"agentIdentification"`
	EnName              string        `json:"enName" yaml:"enName"`
}

// PaymentAgent wraps an Agent with its role.
type PaymentAgent struct {
	Agent     Agent  `json:"agent" yaml:"agent"`
	AgentType string `json:"agentType" yaml:"agentType"`
}

// InvolvedParty is a creditor, debtor or ultimate party.
type InvolvedParty struct {
	AdditionalInfo []KeyValue    `json:"additionalInfo" yaml:"additionalInfo"`
	Address        PostalAddress `json:"address" yaml:"address"`
	EnName         string        `json:"enName" yaml:"enName"`
}

// PaymentInvolvedParty wraps an InvolvedParty with its role.
type PaymentInvolvedParty struct {
	InvolvedParty     InvolvedParty `json:"involvedParty" yaml:"involvedParty"`
	InvolvedPartyType string        `json:"involvedPartyType" yaml:"involvedPartyType"`
}

// --- Payment Plan ---

// PaymentDetails describes the schedule and amounts of a payment plan.
type PaymentDetails struct {
	ExpirationDate         string `json:"expirationDate" yaml:"expirationDate"`
	Frequency              string `json:"frequency" yaml:"frequency"`
	RecurringPaymentAmount Money  `json:"recurringPaymentAmount" yaml:"recurringPaymentAmount"`
	RmtInf                 string `json:"rmtInf" yaml:"rmtInf"`
	SetAmount              Money  `json:"setAmount" yaml:"setAmount"`
	SetNumberOfPayments    int64  `json:"setNumberOfPayments" yaml:"setNumberOfPayments"`
}

// PaymentPlanRequest is the body of POST /paymentPlan.
type PaymentPlanRequest struct {
	Accounts                   []PaymentAccount       `json:"accounts" yaml:"accounts"`
	Agents                     []PaymentAgent         `json:"agents" yaml:"agents"`
	EndToEnd                   string                 `json:"endToEnd" yaml:"endToEnd"`
	InvolvedParties            []PaymentInvolvedParty `json:"involvedParties" yaml:"involvedParties"`
	PaymentDetails             PaymentDetails         `json:"paymentDetails" yaml:"paymentDetails"`
	PaymentPlanAuthPurposeCode string                 `json:"paymentPlanAuthPurposeCode" yaml:"paymentPlanAuthPurposeCode"`
}

// --- Settlement Blocks ---

// SettlementBlock is a sub-unit of a payment plan consumed when initiating a payment.
type SettlementBlock struct {
	BlockID            string `json:"blockId"`
	BlockPaymentAmount Money  `json:"blockPaymentAmount"`
	TotalResult        string `json:"totalResult"`
	EndToEnd           string `json:"endToEnd"`
	UUID               string `json:"UUID"`
	Timestamp          string `json:"timestamp"`
	Token              string `json:"token"`
}

// TokenClaims decodes the claims of the block token without verifying its
// signature. The gateway signs these tokens with a key this service never sees.
func (b SettlementBlock) TokenClaims() (jwt.MapClaims, error) {
	if b.Token == "" {
		return nil, ErrNoBlockToken
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(b.Token, claims); err != nil {
		return nil, fmt.Errorf("failed to decode token for block %s: %w", b.BlockID, err)
	}
	return claims, nil
}

// SettlementBlockView is a block returned to API callers with its decoded token claims.
type SettlementBlockView struct {
	SettlementBlock
	TokenClaims map[string]interface{} `json:"tokenClaims,omitempty"`
}

// --- Payment Initiation ---

// GroupHeader summarizes an initiation batch.
type GroupHeader struct {
	BatchBooking     string `json:"batchBooking" yaml:"batchBooking"`
	BatchPurpose     string `json:"batchPurpose" yaml:"batchPurpose"`
	CreationDateTime string `json:"creationDateTime" yaml:"creationDateTime"`
	NumberOfTrx      string `json:"numberOfTrx" yaml:"numberOfTrx"`
	PaymentMethod    string `json:"paymentMethod" yaml:"paymentMethod"`
	TotalTrxAmount   Money  `json:"totalTrxAmount" yaml:"totalTrxAmount"`
}

// Identifications ties an instruction to its plan and block.
type Identifications struct {
	SOSPID        string `json:"SOSPId" yaml:"SOSPId"`
	BlockID       string `json:"blockId" yaml:"blockId"`
	EndToEnd      string `json:"endToEnd" yaml:"endToEnd"`
	FxQuoteID     string `json:"fxQuoteId" yaml:"fxQuoteId"`
	PaymentPlanID string `json:"paymentPlanId" yaml:"paymentPlanId"`
	QuoteID       string `json:"quoteId" yaml:"quoteId"`
	TrxID         string `json:"trxId" yaml:"trxId"`
}

// RemittanceInformation carries free text for the beneficiary.
type RemittanceInformation struct {
	Unstructured []string `json:"unstructured" yaml:"unstructured"`
}

// InstructionInfo is a single payment instruction.
type InstructionInfo struct {
	Accounts              []PaymentAccount       `json:"accounts" yaml:"accounts"`
	Agents                []PaymentAgent         `json:"agents" yaml:"agents"`
	CategoryPurpose       string                 `json:"categoryPurpose" yaml:"categoryPurpose"`
	ClearingChannel       string                 `json:"clearingChannel" yaml:"clearingChannel"`
	Identifications       Identifications        `json:"identifications" yaml:"identifications"`
	InvolvedParties       []PaymentInvolvedParty `json:"involvedParties" yaml:"involvedParties"`
	LocalInstrument       string                 `json:"localInstrument" yaml:"localInstrument"`
	RegulatoryReporting   []string               `json:"regulatoryReporting" yaml:"regulatoryReporting"`
	RemittanceInformation RemittanceInformation  `json:"remittanceInformation" yaml:"remittanceInformation"`
	ServiceLevel          string                 `json:"serviceLevel" yaml:"serviceLevel"`
	SupplementaryData     []KeyValue             `json:"supplementaryData" yaml:"supplementaryData"`
	TrxAmount             Money                  `json:"trxAmount" yaml:"trxAmount"`
	TrxPresDateTime       string                 `json:"trxPresDateTime" yaml:"trxPresDateTime"`
}

// PaymentInitiationRequest is the body of POST /PIS/initiation.
type PaymentInitiationRequest struct {
	GroupHeader      GroupHeader       `json:"groupHeader" yaml:"groupHeader"`
	InstructionsInfo []InstructionInfo `json:"instructionsInfo" yaml:"instructionsInfo"`
}

// PaymentTemplates holds the fixed-shape request bodies sent to the gateway.
type PaymentTemplates struct {
	PaymentPlan       PaymentPlanRequest       `yaml:"payment_plan"`
	PaymentInitiation PaymentInitiationRequest `yaml:"payment_initiation"`
}
