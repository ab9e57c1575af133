package billing

import (
	"sort"

	lo "github.com/samber/lo"
)

type summaryKey struct {
	date      string
	domainID  string
	projectID string
	serviceID string
}

// accumulator collects one group. Tags are kept as sets until the group is finished.
type accumulator struct {
	summary      DailySummary
	pricingTypes map[string]struct{}
	regions      map[string]struct{}
}

func newAccumulator(s DailySummary) *accumulator {
	s.UsageTime, s.UsageSize, s.GeneralAmount, s.DiscountAmount, s.ExpectAmount = 0, 0, 0, 0, 0
	s.PricingTypes, s.Regions = nil, nil
	return &accumulator{
		summary:      s,
		pricingTypes: map[string]struct{}{},
		regions:      map[string]struct{}{},
	}
}

func (a *accumulator) addEntry(e CostEntry) {
	a.summary.UsageTime += e.UsageTime
	a.summary.UsageSize += e.UsageSize
	a.summary.GeneralAmount += e.GeneralAmount
	a.summary.DiscountAmount += e.DiscountAmount
	a.summary.ExpectAmount += e.ExpectAmount
	addTag(a.pricingTypes, e.PricingType)
	addTag(a.regions, e.Region)
}

func (a *accumulator) addSummary(s DailySummary) {
	a.summary.UsageTime += s.UsageTime
	a.summary.UsageSize += s.UsageSize
	a.summary.GeneralAmount += s.GeneralAmount
	a.summary.DiscountAmount += s.DiscountAmount
	a.summary.ExpectAmount += s.ExpectAmount
	for _, t := range s.PricingTypes {
		addTag(a.pricingTypes, t)
	}
	for _, r := range s.Regions {
		addTag(a.regions, r)
	}
}

func (a *accumulator) finish() DailySummary {
	s := a.summary
	s.PricingTypes = sortedTags(a.pricingTypes)
	s.Regions = sortedTags(a.regions)
	return s
}

func addTag(set map[string]struct{}, tag string) {
	if tag != "" {
		set[tag] = struct{}{}
	}
}

func sortedTags(set map[string]struct{}) []string {
	tags := lo.Keys(set)
	sort.Strings(tags)
	return tags
}

// Aggregate groups entries by (metering date, domain id, project id, service id),
// summing the numeric fields and collecting distinct pricing types and regions.
// The first display names seen for a group are kept; later entries never
// overwrite them.
func Aggregate(entries []CostEntry) []DailySummary {
	groups := make(map[summaryKey]*accumulator)
	for _, e := range entries {
		k := summaryKey{date: e.MeteringDate, domainID: e.DomainID, projectID: e.ProjectID, serviceID: e.ServiceID}
		acc, ok := groups[k]
		if !ok {
			acc = newAccumulator(DailySummary{
				MeteringDate: e.MeteringDate,
				DomainID:     e.DomainID,
				DomainName:   e.DomainName,
				ProjectID:    e.ProjectID,
				ProjectName:  e.ProjectName,
				ServiceID:    e.ServiceID,
				ServiceName:  e.ServiceName,
			})
			groups[k] = acc
		}
		acc.addEntry(e)
	}
	return finishGroups(groups)
}

// Merge combines summaries of separately aggregated batches by key. Merging the
// aggregates of two sub-batches gives the aggregate of the whole batch.
func Merge(batches ...[]DailySummary) []DailySummary {
	groups := make(map[summaryKey]*accumulator)
	for _, batch := range batches {
		for _, s := range batch {
			k := summaryKey{date: s.MeteringDate, domainID: s.DomainID, projectID: s.ProjectID, serviceID: s.ServiceID}
			acc, ok := groups[k]
			if !ok {
				acc = newAccumulator(s)
				groups[k] = acc
			}
			acc.addSummary(s)
		}
	}
	return finishGroups(groups)
}

func finishGroups(groups map[summaryKey]*accumulator) []DailySummary {
	summaries := lo.MapToSlice(groups, func(_ summaryKey, acc *accumulator) DailySummary {
		return acc.finish()
	})
	sortSummaries(summaries)
	return summaries
}

// sortSummaries orders by (date, domain name, project name, service name). Ids
// break the remaining ties so output does not depend on map iteration.
func sortSummaries(s []DailySummary) {
	sort.SliceStable(s, func(i, j int) bool {
		a, b := s[i], s[j]
		if a.MeteringDate != b.MeteringDate {
			return a.MeteringDate < b.MeteringDate
		}
		if a.DomainName != b.DomainName {
			return a.DomainName < b.DomainName
		}
		if a.ProjectName != b.ProjectName {
			return a.ProjectName < b.ProjectName
		}
		if a.ServiceName != b.ServiceName {
			return a.ServiceName < b.ServiceName
		}
		if a.DomainID != b.DomainID {
			return a.DomainID < b.DomainID
		}
		if a.ProjectID != b.ProjectID {
			return a.ProjectID < b.ProjectID
		}
		return a.ServiceID < b.ServiceID
	})
}
