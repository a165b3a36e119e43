package sidecar

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Property identifiers a port description is decoded from. All but the
// endpoint URL match by suffix, so any vocabulary spelling them that way works.
const (
	FormatSuffix      = "FileFormat"
	NamePatternSuffix = "NamePattern"
	DataModelSuffix   = "DataModel"
	ScheduleSuffix    = "Schedule"
	TimeUnitSuffix    = "TimeUnit"

	// EndpointURL is matched exactly.
	EndpointURL = "http://www.w3.org/ns/dcat#endpointURL"
)

// FileFormat is the format of the files a port ingests.
type FileFormat string

const (
	FormatCSV  FileFormat = "CSV"
	FormatJSON FileFormat = "JSON"
)

var fileFormats = []FileFormat{FormatCSV, FormatJSON}

// TimeUnit is the unit of a ScheduleSpec.
type TimeUnit string

const (
	Seconds TimeUnit = "seconds"
	Minutes TimeUnit = "minutes"
)

// A ScheduleSpec describes how often a port is ingested.
type ScheduleSpec struct {
	Unit      TimeUnit
	Magnitude float64
}

// maxIntervalSeconds bounds the intervals a time.Duration can hold.
var maxIntervalSeconds = time.Duration(math.MaxInt64).Seconds()

// Seconds returns the schedule interval in (possibly fractional) seconds.
func (s ScheduleSpec) Seconds() float64 {
	if s.Unit == Minutes {
		return s.Magnitude * 60
	}
	return s.Magnitude
}

// A PortDescriptor is the typed configuration of a single input port. It is
// decoded once from the description graph and never modified afterwards.
type PortDescriptor struct {
	PortID          string
	Format          FileFormat
	NamePattern     string
	Path            string // Filesystem path of the endpoint URL.
	DataModel       string
	IntervalSeconds float64
}

// Interval returns the schedule interval as a time.Duration.
func (d PortDescriptor) Interval() time.Duration {
	return time.Duration(d.IntervalSeconds * float64(time.Second))
}

// ResolvePort decodes the description of a port into a PortDescriptor.
//
// Every field is decoded even when an earlier one fails, so the returned error
// (a join of *ConfigurationError values) reports all problems of the port at
// once. The raw property bag is dropped once decoded.
func ResolvePort(ctx context.Context, c *QueryCatalog, portID string) (PortDescriptor, error) {
	bag, err := c.PropertiesOf(ctx, portID)
	if err != nil {
		return PortDescriptor{}, fmt.Errorf("port %s: %w", portID, err)
	}
	r := portResolver{port: portID, bag: bag}

	d := PortDescriptor{PortID: portID}
	d.Format = r.format()
	d.NamePattern = r.text(NamePatternSuffix, "namePattern")
	d.Path = r.path()
	d.DataModel = r.text(DataModelSuffix, "datamodel")
	schedule, ok := r.schedule(ctx, c)
	if ok {
		d.IntervalSeconds = schedule.Seconds()
	}
	if err := errors.Join(r.errs...); err != nil {
		return PortDescriptor{}, err
	}
	return d, nil
}

// A portResolver accumulates the problems found while decoding a port.
type portResolver struct {
	port string
	bag  PropertyBag
	errs []error
}

func (r *portResolver) fail(field, format string, args ...any) {
	r.errs = append(r.errs, &ConfigurationError{
		Port:   r.port,
		Field:  field,
		Reason: fmt.Sprintf(format, args...),
	})
}

func (r *portResolver) format() FileFormat {
	v, ok := r.bag.BySuffix(FormatSuffix)
	if !ok {
		r.fail("format", "no format specified")
		return ""
	}
	for _, f := range fileFormats {
		if strings.HasSuffix(v.Value, string(f)) {
			return f
		}
	}
	r.fail("format", "unknown file format %q", v.Value)
	return ""
}

func (r *portResolver) text(suffix, field string) string {
	v, ok := r.bag.BySuffix(suffix)
	if !ok {
		r.fail(field, "no property ending with %q", suffix)
		return ""
	}
	return v.Value
}

func (r *portResolver) path() string {
	v, ok := r.bag[EndpointURL]
	if !ok {
		r.fail("path", "no %s property", EndpointURL)
		return ""
	}
	u, err := url.Parse(v.Value)
	if err != nil {
		r.fail("path", "malformed endpoint URL: %v", err)
		return ""
	}
	if u.Path == "" {
		r.fail("path", "endpoint URL %q has no path", v.Value)
		return ""
	}
	return u.Path
}

// schedule follows the schedule property to its own instance and decodes the
// unit and magnitude found there.
func (r *portResolver) schedule(ctx context.Context, c *QueryCatalog) (ScheduleSpec, bool) {
	v, ok := r.bag.BySuffix(ScheduleSuffix)
	if !ok {
		r.fail("schedule", "no property ending with %q", ScheduleSuffix)
		return ScheduleSpec{}, false
	}
	if v.Kind == Literal {
		r.fail("schedule", "expected an instance, found literal %s", v.Key())
		return ScheduleSpec{}, false
	}
	bag, err := c.PropertiesOf(ctx, v.Value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("port %s: schedule %s: %w", r.port, v.Value, err))
		return ScheduleSpec{}, false
	}

	unitValue, ok := bag.BySuffix(TimeUnitSuffix)
	if !ok {
		r.fail("schedule", "no time unit on schedule %s", v.Value)
		return ScheduleSpec{}, false
	}
	var spec ScheduleSpec
	switch {
	case strings.HasSuffix(strings.ToLower(unitValue.Value), string(Seconds)):
		spec.Unit = Seconds
	case strings.HasSuffix(strings.ToLower(unitValue.Value), string(Minutes)):
		spec.Unit = Minutes
	default:
		r.fail("schedule", "unknown time unit %q", unitValue.Value)
		return ScheduleSpec{}, false
	}

	magnitude, ok := bag.BySuffix(string(spec.Unit))
	if !ok {
		r.fail("schedule", "no magnitude in %s on schedule %s", spec.Unit, v.Value)
		return ScheduleSpec{}, false
	}
	spec.Magnitude, err = strconv.ParseFloat(strings.TrimSpace(magnitude.Value), 64)
	if err != nil {
		r.fail("schedule", "malformed magnitude %q: %v", magnitude.Value, err)
		return ScheduleSpec{}, false
	}
	switch {
	case math.IsNaN(spec.Magnitude) || math.IsInf(spec.Magnitude, 0):
		r.fail("schedule", "magnitude must be a finite number, found %q", magnitude.Value)
		return ScheduleSpec{}, false
	case spec.Magnitude <= 0:
		r.fail("schedule", "magnitude must be positive, found %v", spec.Magnitude)
		return ScheduleSpec{}, false
	case spec.Seconds() >= maxIntervalSeconds:
		r.fail("schedule", "interval of %v %s exceeds the longest supported interval", spec.Magnitude, spec.Unit)
		return ScheduleSpec{}, false
	}
	return spec, true
}
