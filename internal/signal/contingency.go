package signal

import (
	"github.com/cart-safety-engine/internal/domain"
)

// BuildTable derives the 2x2 contingency table for a drug-event pair from
// the source counts: the pair count, the drug and event marginals, and the
// unrestricted database total. The total must come from a filter-free count
// query; deriving it from a proxy term's count times a multiplier is
// unreliable and is not supported here.
func BuildTable(counts *domain.ReportCounts) (domain.ContingencyTable, error) {
	if counts == nil {
		return domain.ContingencyTable{}, domain.NewValidationError("counts", "report counts are required", nil)
	}
	if counts.NTotal <= 0 {
		return domain.ContingencyTable{}, domain.NewValidationError("n_total", "database total must be positive", counts.NTotal)
	}

	table := domain.ContingencyTable{
		A: counts.PairCount,
		B: counts.DrugTotal - counts.PairCount,
		C: counts.EventTotal - counts.PairCount,
		D: counts.NTotal - counts.DrugTotal - counts.EventTotal + counts.PairCount,
	}
	if err := table.Validate(); err != nil {
		return domain.ContingencyTable{}, err
	}
	return table, nil
}
