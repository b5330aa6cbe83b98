package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAttachmentFilename_Deterministic(t *testing.T) {
	t.Parallel()

	first := AttachmentFilename("07/31/2025", "Medical Device User Fee Small Business Qualification", "176439", "pdf")
	for i := 0; i < 10; i++ {
		require.Equal(t, first, AttachmentFilename("07/31/2025", "Medical Device User Fee Small Business Qualification", "176439", "pdf"))
	}
	require.Equal(t, "07-31-2025_medical_device_user_fee_small_business_qualificati_176439.pdf", first)
}

func TestAttachmentFilename_MissingInputs(t *testing.T) {
	t.Parallel()

	require.Equal(t, "unknown_untitled_.pdf", AttachmentFilename("", "", "", ""))
	require.Equal(t, "unknown_cvm_gfi_294_180442.pdf", AttachmentFilename("n/a", "CVM GFI #294!", "180442", "pdf"))
}

func TestSlug_StripsPunctuationAndBoundsLength(t *testing.T) {
	t.Parallel()

	require.Equal(t, "e21_inclusion_of_pregnant_and_breastfeeding_women", Slug("E21 Inclusion of Pregnant and Breastfeeding Women"))

	long := Slug("A very long title that keeps going well past the fifty byte boundary enforced for filesystem safety")
	require.LessOrEqual(t, len(long), 50)
	require.NotEqual(t, "_", long[len(long)-1:])
}

func TestMediaID(t *testing.T) {
	t.Parallel()

	require.Equal(t, "176439", MediaID("https://www.fda.gov/media/176439/download"))
	require.Equal(t, "", MediaID("https://www.fda.gov/about-fda"))
}
