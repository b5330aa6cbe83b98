package parser

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quriousri/fda-harvester/internal/crawler"
)

const detailPage = `<!DOCTYPE html>
<html>
<body>
  <main>
    <h1>  CVM GFI #294 - Animal Food Ingredient Consultation (AFIC) </h1>
    <div class="field-type-text-with-summary">
      <p>This guidance describes a voluntary process for animal food ingredient consultations.</p>
      <p>Second paragraph should not be used.</p>
    </div>
    <a href="/media/180442/download">Download the Final Guidance Document</a>
  </main>
  <div class="region-sidebar-second">
    <dl>
      <dt>Issue Date</dt><dd>07/31/2025</dd>
      <dt>FDA Organization</dt><dd>Center for Veterinary Medicine</dd>
      <dt>Topic</dt><dd>Premarket, Labeling</dd>
      <dt>Guidance Status</dt><dd>Final</dd>
      <dt>Docket Number</dt><dd>FDA-2023-D-1234</dd>
      <dt>Regulated Product(s)</dt><dd>Animal &amp; Veterinary, Food</dd>
      <dt>Content current as of</dt><dd>08/01/2025</dd>
      <dt>Open for Comment</dt><dd>Yes</dd>
    </dl>
  </div>
</body>
</html>`

func parsePage(t *testing.T, html string) crawler.DocumentPage {
	t.Helper()
	p, err := New("")
	require.NoError(t, err)
	page, err := p.Parse(crawler.Page{
		URL:  "https://www.fda.gov/regulatory-information/search-fda-guidance-documents/cvm-gfi-294",
		Body: []byte(html),
	})
	require.NoError(t, err)
	return page
}

func TestParse_FullDetailPage(t *testing.T) {
	t.Parallel()

	page := parsePage(t, detailPage)

	require.Equal(t, "CVM GFI #294 - Animal Food Ingredient Consultation (AFIC)", page.Title)
	require.Equal(t, "https://www.fda.gov/media/180442/download", page.PDFURL)
	require.Equal(t, "07/31/2025", page.IssueDate)
	require.Equal(t, "Center for Veterinary Medicine", page.Organization)
	require.Equal(t, "Premarket, Labeling", page.Topic)
	require.Equal(t, "Final", page.GuidanceStatus)
	require.Equal(t, "FDA-2023-D-1234", page.DocketNumber)
	require.Equal(t, `["Animal & Veterinary","Food"]`, page.RegulatedProducts)
	require.Equal(t, "08/01/2025", page.ContentCurrentDate)
	require.NotNil(t, page.OpenForComment)
	require.True(t, *page.OpenForComment)
	require.Equal(t,
		"This guidance describes a voluntary process for animal food ingredient consultations.",
		page.Summary)
}

func TestParse_PageWithoutSidebarOrPDF(t *testing.T) {
	t.Parallel()

	page := parsePage(t, `<html><body><h1>Bare Document</h1><p>no structure here</p></body></html>`)

	require.Equal(t, "Bare Document", page.Title)
	require.Empty(t, page.PDFURL)
	require.Empty(t, page.IssueDate)
	require.Empty(t, page.Summary)
	require.Nil(t, page.OpenForComment)
}

func TestParse_IgnoresNonMediaLinks(t *testing.T) {
	t.Parallel()

	page := parsePage(t, `<html><body>
		<h1>Doc</h1>
		<a href="/about-fda">About</a>
		<a href="/media/not-a-download">Nope</a>
		<a href="https://www.fda.gov/media/176439/download">PDF</a>
	</body></html>`)

	require.Equal(t, "https://www.fda.gov/media/176439/download", page.PDFURL)
}

func TestParse_AsideFallbackSidebar(t *testing.T) {
	t.Parallel()

	page := parsePage(t, `<html><body>
		<h1>Doc</h1>
		<aside><dl><dt>Issue Date</dt><dd>01/15/2024</dd></dl></aside>
	</body></html>`)

	require.Equal(t, "01/15/2024", page.IssueDate)
}

func TestParse_SummaryTruncated(t *testing.T) {
	t.Parallel()

	long := make([]byte, 0, 1500)
	for i := 0; i < 1500; i++ {
		long = append(long, 'a')
	}
	page := parsePage(t, `<html><body><h1>Doc</h1>
		<div class="field-item"><p>`+string(long)+`</p></div>
	</body></html>`)

	require.Len(t, page.Summary, 1000)
}
