package xmlsummary

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"

	"github.com/relyingparty/rcynic/pkg/rpki/counters"
)

// Version identifies this build in the <rcynic-summary> root element's
// rcynic-version attribute. Overridden at link time the same way
// cmd/rcynic's own -V/--version flag is.
var Version = "dev"

type document struct {
	XMLName           xml.Name     `xml:"rcynic-summary"`
	Date              string       `xml:"date,attr"`
	RcynicVersion     string       `xml:"rcynic-version,attr"`
	ReportingHostname string       `xml:"reporting-hostname,attr"`
	Labels            []labelElem  `xml:"labels>label"`
	Hosts             []hostElem   `xml:"host"`
	Statuses          []statusElem `xml:"validation_status"`
}

type labelElem struct {
	Tag  string `xml:"tag,attr"`
	Kind string `xml:"kind,attr"`
}

type hostElem struct {
	Hostname string        `xml:"hostname,attr"`
	Counters []counterElem
}

// counterElem gives each outcome its own dynamically-named element
// (e.g. <current_cert_accepted>3</current_cert_accepted>); encoding/xml
// honors a populated XMLName field over any struct-field tag.
type counterElem struct {
	XMLName xml.Name
	Value   uint64 `xml:",chardata"`
}

type statusElem struct {
	Timestamp string `xml:"timestamp,attr"`
	Status    string `xml:"status,attr"`
	URI       string `xml:",chardata"`
}

func classString(c counters.Class) string {
	switch c {
	case counters.Good:
		return "good"
	case counters.Warn:
		return "warn"
	default:
		return "bad"
	}
}

// Write renders registry's accumulated state as spec.md §6's XML summary
// document and writes it to w. date is formatted by the caller (typically
// time.Now().UTC().Format(time.RFC3339)) so tests can supply a fixed value.
func Write(w io.Writer, registry *counters.Registry, reportingHostname, date string) error {
	doc := document{
		Date:              date,
		RcynicVersion:     Version,
		ReportingHostname: reportingHostname,
	}

	for _, o := range counters.AllOutcomes() {
		doc.Labels = append(doc.Labels, labelElem{
			Tag:  o.String(),
			Kind: classString(o.Class()),
		})
	}

	for _, host := range registry.Hosts() {
		hc := registry.HostCounters(host)
		he := hostElem{Hostname: host}
		for _, o := range counters.AllOutcomes() {
			if n := hc[o]; n > 0 {
				he.Counters = append(he.Counters, counterElem{
					XMLName: xml.Name{Local: o.String()},
					Value:   n,
				})
			}
		}
		doc.Hosts = append(doc.Hosts, he)
	}

	for _, entry := range registry.StatusLog() {
		doc.Statuses = append(doc.Statuses, statusElem{
			Timestamp: entry.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
			Status:    entry.Outcome.String(),
			URI:       entry.URI,
		})
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}

	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("xmlsummary: encoding document: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// WriteFile writes the summary to path, or to stdout when path is "-",
// spec.md §6's xml-summary option.
func WriteFile(path string, registry *counters.Registry, reportingHostname, date string) error {
	if path == "-" {
		return Write(os.Stdout, registry, reportingHostname, date)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("xmlsummary: creating %s: %w", path, err)
	}
	defer f.Close()

	return Write(f, registry, reportingHostname, date)
}
