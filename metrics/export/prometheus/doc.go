// Package prometheus renders deskauth engine metrics in the Prometheus text
// exposition format. Counters are named deskauth_*_total; the validate
// latency histogram appears only when latency histograms are enabled.
//
// Nothing is registered globally: mount [Exporter.Handler] where scrapes
// should go.
package prometheus
