package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/busencoders/internal/status"
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
	"orDash": func(s string) string {
		if s == "" {
			return "-"
		}
		return s
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Bus Encoders</title>
<style>
body { font-family: monospace; max-width: 760px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
.focused { color: green; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Bus Encoders{{if .Live}}<span id="live-dot" class="live-dot pending" title="connecting"></span>{{end}}</h1>

<h2>Encoders</h2>
<table>
<tr><th>ID</th><th>Name</th><th>Type</th><th>Select</th><th>Mode</th><th>CW</th><th>CCW</th><th>Switch</th></tr>
{{range .Encoders}}<tr id="enc-{{.ID}}"{{if eq .ID $.Focused}} class="focused"{{end}}>
<td>{{.ID}}</td><td>{{orDash .Name}}</td><td>{{.Type}}</td><td>{{.SelectLine}}</td>
<td class="mode">{{.Mode}}/{{.Modes}}</td><td class="cw">{{.Counts.CW}}</td><td class="ccw">{{.Counts.CCW}}</td><td class="sw">{{.Counts.Switch}}</td>
</tr>
{{end}}</table>

<h2>Last Event</h2>
<table>
<tr><th>Event</th><td id="last-event">{{with .LastEvent}}encoder {{.Encoder}} {{.Signal}} index {{.Index}} (mode {{.Mode}}){{else}}none{{end}}</td></tr>
<tr><th>Focused</th><td>{{if eq .Focused 0}}none{{else}}{{.Focused}}{{end}}</td></tr>
<tr><th>Poll errors</th><td>{{.PollErrors}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{orDash .Config.Broker}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Chip</th><td>{{.Config.Chip}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Active timeout</th><td>{{.Config.ActiveTimeoutMs}}ms</td></tr>
<tr><th>Debounce</th><td>{{.Config.DebounceWidth}} reads</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> <a href="/events.json">Events</a></p>
{{if .Live}}
<script>
(function() {
  var dot = document.getElementById("live-dot");
  var last = document.getElementById("last-event");

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  function bump(row, cls) {
    var el = row.querySelector("." + cls);
    if (el) { el.textContent = String(Number(el.textContent) + 1); }
  }

  function onIndex(ev) {
    last.textContent = "encoder " + ev.encoder + " " + ev.signal + " index " + ev.index + " (mode " + ev.mode + ")";
    var rows = document.querySelectorAll("tr[id^=enc-]");
    for (var i = 0; i < rows.length; i++) { rows[i].className = ""; }
    var row = document.getElementById("enc-" + ev.encoder);
    if (!row) { return; }
    row.className = "focused";
    bump(row, ev.signal === "CW" ? "cw" : ev.signal === "CCW" ? "ccw" : "sw");
  }

  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/ws");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() {
      setDot("err", "offline");
      setTimeout(connect, 5000);
    };
    ws.onmessage = function(m) {
      try {
        var msg = JSON.parse(m.data);
        if (msg.type === "index") { onIndex(msg.data); }
      } catch (e) {}
    };
  }
  connect();
})();
</script>
{{end}}
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot, live bool) {
	data := struct {
		status.Snapshot
		Uptime time.Duration
		Live   bool
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Live:     live,
	}
	indexTmpl.Execute(w, data)
}
