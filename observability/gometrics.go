package observability

import gometrics "github.com/xraph/go-utils/metrics"

// FromMetrics adapts a go-utils MetricFactory, such as the one a Forge app
// exposes through App.Metrics, to MetricFactory.
func FromMetrics(f gometrics.MetricFactory) MetricFactory {
	return goUtilsFactory{f: f}
}

type goUtilsFactory struct {
	f gometrics.MetricFactory
}

func (g goUtilsFactory) Counter(name string) Counter { return g.f.Counter(name) }

func (g goUtilsFactory) Histogram(name string) Histogram { return g.f.Histogram(name) }
