package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/thermo-node/internal/mqtt"
	"github.com/sweeney/thermo-node/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"celsius": func(v float64) string {
		return string(mqtt.FormatTemperature(v))
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="10">
<title>Thermo Node</title>
<style>
body { font-family: monospace; max-width: 640px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.blinking { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
.error { color: red; }
</style>
</head>
<body>
<h1>Thermo Node</h1>

<h2>Connectivity</h2>
<table>
<tr><th>Link</th><td class="{{if eq .Link "CONNECTED"}}connected{{else}}disconnected{{end}}">{{.Link}}</td></tr>
<tr><th>Interface</th><td>{{.Config.Interface}}</td></tr>
{{if .Addr}}<tr><th>IP</th><td>{{.Addr}}</td></tr>{{end}}
<tr><th>MQTT</th><td class="{{if eq .Session "ACTIVE"}}connected{{else}}disconnected{{end}}">{{.Session}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Client ID</th><td>{{.Config.ClientID}}</td></tr>
<tr><th>LED</th><td id="led-state" class="{{if eq .LED "ON"}}on{{else if eq .LED "BLINKING"}}blinking{{else}}off{{end}}">{{.LED}}</td></tr>
</table>

<h2>Sensors</h2>
{{if .Sensors}}<table>
<tr><th>#</th><th>Address</th><th>Last</th><th>Reads</th><th>Errors</th></tr>
{{range .Sensors}}<tr><td>{{.Index}}</td><td>{{.Address}}</td><td>{{if .Err}}<span class="error">{{.Err}}</span>{{else if .Time.IsZero}}-{{else}}{{celsius .Value}} &deg;C{{end}}</td><td>{{.Reads}}</td><td>{{.Errors}}</td></tr>
{{end}}</table>{{else}}<p>No sensors discovered.</p>{{end}}

<h2>Publishing</h2>
<table>
<tr><th>Queue</th><td>{{.Queue.Depth}}/{{.Queue.Capacity}} ({{.Queue.Drops}} dropped)</td></tr>
<tr><th>Published</th><td>{{.Publish.Published}}</td></tr>
<tr><th>Failed</th><td>{{.Publish.Failed}}</td></tr>
<tr><th>Discarded offline</th><td>{{.Publish.Dropped}}</td></tr>
</table>

{{if .WorkerNames}}<h2>Workers</h2>
<table>
{{range .WorkerNames}}<tr><th>{{.}}</th><td>{{index $.Workers .}}</td></tr>
{{end}}</table>{{end}}

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Topic prefix</th><td>{{.Config.TopicPrefix}}</td></tr>
<tr><th>Resolution</th><td>{{.Config.Resolution}} bits</td></tr>
<tr><th>Settle</th><td>{{.Config.SettleMs}}ms</td></tr>
<tr><th>Interval</th><td>{{.Config.IntervalMs}}ms</td></tr>
<tr><th>Reconnect</th><td>{{.Config.ReconnectDelayMs}}ms</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}
