package location

import "github.com/markus-lassfolk/livedatabus/pkg/livedata"

// Format derives a display string for every sample src emits, in the
// "[lat - lon]" form of Sample.String.
func Format(src livedata.Observable[Sample], opts ...livedata.Option) *livedata.Mediator[string] {
	opts = append([]livedata.Option{livedata.WithName("location_format")}, opts...)
	return livedata.Map[Sample, string](src, Sample.String, opts...)
}
