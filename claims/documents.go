package claims

import (
	"sort"
	"strings"
)

// =============================================================================
// DOCUMENT TAXONOMY
// =============================================================================

// DocumentKind is a category of evidentiary document.
type DocumentKind string

const (
	DocDeathCertificate     DocumentKind = "death_certificate"
	DocIdentityDocument     DocumentKind = "identity_document"
	DocMedicalCertificate   DocumentKind = "medical_certificate"
	DocDisabilityAssessment DocumentKind = "disability_assessment"
	DocDismissalLetter      DocumentKind = "dismissal_letter"
	DocEmploymentContract   DocumentKind = "employment_contract"
	DocLossReport           DocumentKind = "loss_report"
	DocLoanStatement        DocumentKind = "loan_statement"
	DocHeirshipCertificate  DocumentKind = "heirship_certificate"
	DocMedicalInvoices      DocumentKind = "medical_invoices"
	DocBusinessRegistration DocumentKind = "business_registration"
)

var knownDocuments = map[DocumentKind]bool{
	DocDeathCertificate:     true,
	DocIdentityDocument:     true,
	DocMedicalCertificate:   true,
	DocDisabilityAssessment: true,
	DocDismissalLetter:      true,
	DocEmploymentContract:   true,
	DocLossReport:           true,
	DocLoanStatement:        true,
	DocHeirshipCertificate:  true,
	DocMedicalInvoices:      true,
	DocBusinessRegistration: true,
}

func (d DocumentKind) Valid() bool { return knownDocuments[d] }

// DocumentTaxonomy maps a claim type to the documents that must be attached
// before the claim can be validated. Partners may require extra documents on
// top of the defaults; they can never waive a default one.
type DocumentTaxonomy struct {
	defaults  map[ClaimType][]DocumentKind
	overrides map[string]map[ClaimType][]DocumentKind
}

// DefaultTaxonomy returns the standard requirements.
func DefaultTaxonomy() *DocumentTaxonomy {
	return &DocumentTaxonomy{
		defaults: map[ClaimType][]DocumentKind{
			TypeDeath:           {DocDeathCertificate, DocIdentityDocument},
			TypeTotalDisability: {DocMedicalCertificate, DocDisabilityAssessment, DocIdentityDocument},
			TypeJobLoss:         {DocDismissalLetter, DocEmploymentContract, DocIdentityDocument},
			TypeBusinessLoss:    {DocLossReport, DocIdentityDocument},
		},
		overrides: map[string]map[ClaimType][]DocumentKind{},
	}
}

// WithPartnerRequirements returns a copy of the taxonomy where partnerID
// additionally requires docs for claimType.
func (t *DocumentTaxonomy) WithPartnerRequirements(partnerID string, claimType ClaimType, docs ...DocumentKind) *DocumentTaxonomy {
	out := &DocumentTaxonomy{
		defaults:  t.defaults,
		overrides: make(map[string]map[ClaimType][]DocumentKind, len(t.overrides)+1),
	}
	for p, byType := range t.overrides {
		cp := make(map[ClaimType][]DocumentKind, len(byType))
		for ct, d := range byType {
			cp[ct] = append([]DocumentKind(nil), d...)
		}
		out.overrides[p] = cp
	}

	key := strings.ToUpper(partnerID)
	if out.overrides[key] == nil {
		out.overrides[key] = map[ClaimType][]DocumentKind{}
	}
	out.overrides[key][claimType] = append(out.overrides[key][claimType], docs...)
	return out
}

// Required returns the sorted, de-duplicated document set for a claim.
func (t *DocumentTaxonomy) Required(partnerID string, claimType ClaimType) []DocumentKind {
	set := map[DocumentKind]bool{}
	for _, d := range t.defaults[claimType] {
		set[d] = true
	}
	for _, d := range t.overrides[strings.ToUpper(partnerID)][claimType] {
		set[d] = true
	}
	return sortedKinds(set)
}

// Missing returns the required documents not present in attached.
func Missing(required, attached []DocumentKind) []DocumentKind {
	have := make(map[DocumentKind]bool, len(attached))
	for _, d := range attached {
		have[d] = true
	}
	missing := map[DocumentKind]bool{}
	for _, d := range required {
		if !have[d] {
			missing[d] = true
		}
	}
	return sortedKinds(missing)
}

func sortedKinds(set map[DocumentKind]bool) []DocumentKind {
	out := make([]DocumentKind, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
