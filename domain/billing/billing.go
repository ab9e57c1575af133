// Package billing holds the cost analytics core: extracting cost entries from an
// API payload, aggregating them into daily summaries, computing per-entity
// baselines and scoring hourly spend against them.
//
// Nothing in this package performs I/O. Every function works on fully
// materialised values and returns new ones.
package billing

// CostEntry is a single billing line item of the cost resources API.
type CostEntry struct {
	MeteringDate   string // YYYYMMDD
	DomainID       string
	DomainName     string
	ProjectID      string
	ProjectName    string
	ServiceID      string
	ServiceName    string
	UsageTime      float64
	UsageSize      float64
	GeneralAmount  float64
	DiscountAmount float64
	ExpectAmount   float64 // billed cost
	PricingType    string  // optional
	Region         string  // optional
}

// EntityKey identifies the (domain, project, service) a baseline belongs to.
type EntityKey struct {
	DomainID  string `json:"domainId" db:"domain_id"`
	ProjectID string `json:"projectId" db:"project_id"`
	ServiceID string `json:"serviceId" db:"service_id"`
}

func (k EntityKey) String() string {
	return k.DomainID + "|" + k.ProjectID + "|" + k.ServiceID
}

// DailySummary is the per (date, domain, project, service) aggregate of a batch of entries.
type DailySummary struct {
	MeteringDate   string   `json:"date"`
	DomainID       string   `json:"domainId"`
	DomainName     string   `json:"domainName"`
	ProjectID      string   `json:"projectId"`
	ProjectName    string   `json:"projectName"`
	ServiceID      string   `json:"serviceId"`
	ServiceName    string   `json:"serviceName"`
	UsageTime      float64  `json:"usageTime"`
	UsageSize      float64  `json:"usageSize"`
	GeneralAmount  float64  `json:"generalAmount"`
	DiscountAmount float64  `json:"discountAmount"`
	ExpectAmount   float64  `json:"expectAmount"`
	PricingTypes   []string `json:"pricingTypes"`
	Regions        []string `json:"regions"`
}

// Entity returns the baseline key of the summary.
func (s DailySummary) Entity() EntityKey {
	return EntityKey{DomainID: s.DomainID, ProjectID: s.ProjectID, ServiceID: s.ServiceID}
}

// Statistics describes the historical distribution of an entity's daily expect amount.
type Statistics struct {
	Mean        float64 `json:"mean"`
	Std         float64 `json:"std"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	P50         float64 `json:"p50"`
	P95         float64 `json:"p95"`
	SampleCount int     `json:"sampleCount"`
}

// BaselineMap is the lookup the detector consults per summary.
type BaselineMap map[EntityKey]Statistics

// AnomalyRecord is one positive verdict. It carries the thresholds it was judged
// with so stored history stays interpretable after thresholds change.
type AnomalyRecord struct {
	Date           string  `json:"date"`
	Hour           int     `json:"hour"`
	DomainID       string  `json:"domainId"`
	DomainName     string  `json:"domainName"`
	ProjectID      string  `json:"projectId"`
	ProjectName    string  `json:"projectName"`
	ServiceID      string  `json:"serviceId"`
	ServiceName    string  `json:"serviceName"`
	ObservedAmount float64 `json:"observedAmount"`
	BaselineMean   float64 `json:"baselineMean"`
	BaselineStd    float64 `json:"baselineStd"`
	ZScore         float64 `json:"zScore"`
	DeviationRatio float64 `json:"deviationRatio"`
	ThresholdZ     float64 `json:"thresholdZ"`
	ThresholdRatio float64 `json:"thresholdRatio"`
}

// Entity returns the baseline key of the record.
func (a AnomalyRecord) Entity() EntityKey {
	return EntityKey{DomainID: a.DomainID, ProjectID: a.ProjectID, ServiceID: a.ServiceID}
}
