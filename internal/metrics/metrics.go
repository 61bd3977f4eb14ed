package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	OrdersPlaced   Counter
	OrdersFailed   Counter
	RoundsSuccess  Counter
	RoundsDegraded Counter
	RoundsFailed   Counter
	RateLimitHits  Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		OrdersPlaced:   n,
		OrdersFailed:   n,
		RoundsSuccess:  n,
		RoundsDegraded: n,
		RoundsFailed:   n,
		RateLimitHits:  n,
	}
}
