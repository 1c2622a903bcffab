package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/tank-controller/internal/status"
	"github.com/sweeney/tank-controller/internal/valve"
)

func humanDuration(d time.Duration) string {
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
}

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": humanDuration,
	"since": func(now, t time.Time) string {
		return humanDuration(now.Sub(t))
	},
	"isOpen": func(s valve.Status) bool {
		return s == valve.StatusOpen
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Tank Controller</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.open { color: green; font-weight: bold; }
.closed { color: #888; }
.locked { color: red; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
form { display: inline; }
</style>
</head>
<body>
<h1>Tank Controller</h1>

<h2>Valves</h2>
<table>
{{range .Tank.Valves}}<tr><th>{{.Name}} (GPIO {{.Channel}})</th><td class="{{.Status}}">{{.Status}}{{if isOpen .Status}} for {{since $.Now .OpenedAt}}{{end}}</td>
<td><form method="post" action="/valve/{{.Name}}"><input type="hidden" name="state" value="{{if isOpen .Status}}closed{{else}}open{{end}}"><button>{{if isOpen .Status}}close{{else}}open{{end}}</button></form></td></tr>
{{end}}</table>

<h2>Tank</h2>
<table>
<tr><th>Level</th><td>{{if .Tank.TankFull}}full{{else}}not full{{end}}</td></tr>
<tr><th>Auto fill</th><td class="{{if .Tank.LockedOut}}locked{{end}}">{{if .Tank.LockedOut}}LOCKED OUT{{else}}enabled{{end}}</td></tr>
<tr><th>Fill budget</th><td>{{uptime .Tank.FillBudget}}</td></tr>
<tr><th>Water change</th><td>{{if .Tank.WaterChangePending}}draining{{else}}idle{{end}}</td></tr>
{{if .Tank.LastTopOff}}<tr><th>Last top-off</th><td>{{.Tank.LastTopOff}} at {{.Tank.LastTopOffAt.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>{{end}}
</table>
<form method="post" action="/waterchange"><input name="duration" size="4" value="60">s <button>change water</button></form>

<h2>Alerts</h2>
<table>
<tr><th>Raised</th><td>{{.AlertCount}}</td></tr>
{{if .LastAlert}}<tr><th>Last</th><td>{{.LastAlert.Kind}}: {{.LastAlert.Message}}</td></tr>{{end}}
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Fill check</th><td>{{.Config.FillCheck}}</td></tr>
<tr><th>Drain ceiling</th><td>{{.Config.DrainCeiling}}</td></tr>
<tr><th>Top-off</th><td>every {{.Config.TopOffInterval}}, up to {{.Config.TopOffBudget}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.Heartbeat 0}}disabled{{else}}{{.Config.Heartbeat}}{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> · <a href="/history.json">history</a> · <a href="/metrics">metrics</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
