package llm

// DeviceFeatures is the structured output schema for medical device
// guidance. Every field is optional except the confidence score; the model
// is told to leave fields empty rather than guess.
type DeviceFeatures struct {
	DeviceClassification string `json:"device_classification,omitempty"`
	ProductCode          string `json:"product_code,omitempty"`
	DeviceType           string `json:"device_type,omitempty"`
	DeviceCategory       string `json:"device_category,omitempty"`
	IntendedUse          string `json:"intended_use,omitempty"`

	RegulatoryPathway     string   `json:"regulatory_pathway,omitempty"`
	PremarketRequirements []string `json:"premarket_requirements,omitempty"`
	StandardsReferenced   []string `json:"standards_referenced,omitempty"`
	TestingRequirements   []string `json:"testing_requirements,omitempty"`
	PerformanceCriteria   []string `json:"performance_criteria,omitempty"`

	QualitySystemRequirements []string `json:"quality_system_requirements,omitempty"`
	LabelingRequirements      []string `json:"labeling_requirements,omitempty"`
	PostMarketRequirements    []string `json:"post_market_requirements,omitempty"`
	SubmissionRequirements    []string `json:"submission_requirements,omitempty"`

	TimelineInformation string `json:"timeline_information,omitempty"`
	FeeInformation      string `json:"fee_information,omitempty"`

	RiskClassification string   `json:"risk_classification,omitempty"`
	Contraindications  []string `json:"contraindications,omitempty"`

	ConfidenceScore float64 `json:"confidence_score" validate:"gte=0,lte=1"`
	ExtractionNotes string  `json:"extraction_notes,omitempty"`
}
