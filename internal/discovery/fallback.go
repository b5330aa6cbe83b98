package discovery

import (
	"context"

	"go.uber.org/zap"

	"github.com/quriousri/fda-harvester/internal/crawler"
)

// KnownDocument is a guidance document shipped with the binary so a crawl
// can still exercise the full pipeline when the listing endpoint blocks
// automated clients.
type KnownDocument struct {
	Title           string
	DocumentURL     string
	PDFURL          string
	IssueDate       string
	FDAOrganization string
	Topic           string
	GuidanceStatus  string
	OpenForComment  bool
}

// KnownDocuments lists verified FDA guidance documents with stable URLs.
var KnownDocuments = []KnownDocument{
	{
		Title:           "Medical Device User Fee Small Business Qualification and Determination: Guidance for Industry, Food and Drug Administration Staff and Foreign Governments",
		DocumentURL:     "https://www.fda.gov/regulatory-information/search-fda-guidance-documents/medical-device-user-fee-small-business-qualification-and-determination",
		PDFURL:          "https://www.fda.gov/media/176439/download",
		IssueDate:       "07/31/2025",
		FDAOrganization: "Center for Devices and Radiological Health Center for Biologics Evaluation and Research",
		Topic:           "User Fees, Administrative / Procedural",
		GuidanceStatus:  "Final",
		OpenForComment:  false,
	},
	{
		Title:           "CVM GFI #294 - Animal Food Ingredient Consultation (AFIC)",
		DocumentURL:     "https://www.fda.gov/regulatory-information/search-fda-guidance-documents/cvm-gfi-294-animal-food-ingredient-consultation-afic",
		PDFURL:          "https://www.fda.gov/media/180442/download",
		IssueDate:       "07/31/2025",
		FDAOrganization: "Center for Veterinary Medicine",
		Topic:           "Premarket, Animal Food Additives, Labeling, Safety - Issues, Errors, and Problems",
		GuidanceStatus:  "Final",
		OpenForComment:  false,
	},
	{
		Title:           "E21 Inclusion of Pregnant and Breastfeeding Women in Clinical Trials: Draft Guidance for Industry",
		DocumentURL:     "https://www.fda.gov/regulatory-information/search-fda-guidance-documents/e21-inclusion-pregnant-and-breastfeeding-women-clinical-trials",
		PDFURL:          "https://www.fda.gov/media/187755/download",
		IssueDate:       "07/21/2025",
		FDAOrganization: "Center for Biologics Evaluation and Research Center for Drug Evaluation and Research Office of the Commissioner,Office of Women's Health",
		Topic:           "ICH-Efficacy",
		GuidanceStatus:  "Draft",
		OpenForComment:  true,
	},
}

// Fallback serves the built-in document list.
type Fallback struct{}

// Discover returns the known document URLs.
func (Fallback) Discover(context.Context) ([]string, error) {
	urls := make([]string, len(KnownDocuments))
	for i, d := range KnownDocuments {
		urls[i] = d.DocumentURL
	}
	return urls, nil
}

// WithFallback tries the primary discoverer and falls back to the built-in
// list when it fails. Listing failures of any kind degrade to the fallback
// so a blocked or flaky endpoint never aborts the whole crawl.
type WithFallback struct {
	Primary  crawler.Discoverer
	Fallback crawler.Discoverer
	Logger   *zap.Logger
}

// Discover runs the primary discoverer, degrading on error.
func (w WithFallback) Discover(ctx context.Context) ([]string, error) {
	urls, err := w.Primary.Discover(ctx)
	if err == nil {
		return urls, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	if w.Logger != nil {
		w.Logger.Warn("listing discovery failed, using built-in fallback documents", zap.Error(err))
	}
	return w.Fallback.Discover(ctx)
}
