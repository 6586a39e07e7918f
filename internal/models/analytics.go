package models

// CustomerView is everything the dashboard shows for one customer. An unknown
// customer produces a view with no profile and empty collections.
type CustomerView struct {
	CustomerID     string             `json:"customer_id"`
	Profile        *CustomerProfile   `json:"profile"`
	Loans          []Loan             `json:"loans"`
	CreditCards    []CreditCard       `json:"credit_cards"`
	Transactions   []DatedTransaction `json:"transactions"`
	DailyTotals    []DailyTotal       `json:"daily_totals"`
	HighUsageCards []CreditCard       `json:"high_usage_cards"`
	HighUsageAlert bool               `json:"high_usage_alert"`
}

func (v *CustomerView) Found() bool {
	return v != nil && v.Profile != nil
}

type Segmentation struct {
	K          int            `json:"k"`
	Labels     map[string]int `json:"labels"`
	Sizes      []int          `json:"sizes"`
	Centroids  [][3]float64   `json:"centroids"`
	Inertia    float64        `json:"inertia"`
	Iterations int            `json:"iterations"`
}

// Label returns the segment of customerID and whether it was segmented.
func (s *Segmentation) Label(customerID string) (int, bool) {
	if s == nil {
		return 0, false
	}
	label, ok := s.Labels[customerID]
	return label, ok
}

type CustomerSegment struct {
	CustomerID string `json:"customer_id"`
	Segment    int    `json:"segment"`
	K          int    `json:"k"`
}

type LoanPrediction struct {
	Loan              Loan       `json:"loan"`
	PredictedRisk     int        `json:"predicted_risk"`
	PredictedStatus   LoanStatus `json:"predicted_status"`
	RejectProbability float64    `json:"reject_probability"`
}

type LoanRisk struct {
	CustomerID   string           `json:"customer_id"`
	Predictions  []LoanPrediction `json:"predictions"`
	TrainingSize int              `json:"training_size"`
	Approved     int              `json:"approved"`
	Rejected     int              `json:"rejected"`
}
