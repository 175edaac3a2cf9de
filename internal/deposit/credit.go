package deposit

import (
	"fmt"

	"credit_pool/internal/models"
)

// Grant is the up-front credit for a validated deposit.
type Grant struct {
	Usable models.Credits `json:"usable"`
	Gross  models.Credits `json:"gross"`
	Fee    models.Credits `json:"fee"`
	Net    models.Credits `json:"net"`
}

// InitialCredit computes what a contributor receives immediately. Only the
// initial share of the usable quota is granted now, less the platform fee;
// the rest is released as the resource is consumed.
func InitialCredit(outcome models.ValidationOutcome, claimed models.Credits, estimated *models.Credits, terms models.ReleaseTerms) (Grant, string) {
	if outcome != models.OutcomeValid {
		return Grant{}, fmt.Sprintf("Validation failed: %s", outcome)
	}

	usable := claimed
	var explanation string
	switch {
	case estimated == nil:
		explanation = fmt.Sprintf("Could not verify quota. Accepting claimed amount with caution. Initial deposit: %s.", percent(terms.InitialRate))
	case *estimated < claimed:
		usable = *estimated
		explanation = fmt.Sprintf("Claimed %s Credits, but validation estimated %s Credits. Using lower estimate.", claimed, *estimated)
	default:
		explanation = fmt.Sprintf("Validation confirmed quota. Initial deposit: %s (%s Credits).", percent(terms.InitialRate), claimed.MulRate(terms.InitialRate))
	}

	gross := usable.MulRate(terms.InitialRate)
	fee := gross.MulRate(terms.FeeRate)
	return Grant{Usable: usable, Gross: gross, Fee: fee, Net: gross - fee}, explanation
}

func percent(rate float64) string {
	return fmt.Sprintf("%g%%", rate*100)
}
