package webmonitor

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>Road Risk Monitor</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { font-family: sans-serif; background: #111; color: #eee; margin: 0; }
        .app { padding: 16px; }
        .header { display: flex; justify-content: space-between; align-items: center; }
        .badge { padding: 4px 8px; border-radius: 4px; background: #333; }
        .grid { display: grid; grid-template-columns: 1fr 1fr; gap: 16px; margin-top: 16px; }
        .panel { background: #1c1c1c; border-radius: 8px; padding: 12px; }
        table { width: 100%; border-collapse: collapse; }
        td, th { padding: 4px 6px; border-bottom: 1px solid #333; text-align: left; }
        .safe { color: #4caf50; } .caution { color: #ffc107; }
        .warning { color: #ff9800; } .danger { color: #f44336; }
        button { margin-right: 6px; }
    </style>
</head>
<body>
    <div class="app">
        <div class="header">
            <h1>Road Risk Monitor</h1>
            <span class="badge" id="status-badge">Waiting for data...</span>
        </div>
        <div class="grid">
            <div class="panel">
                <h2>Scheduler</h2>
                <div id="scheduler">--</div>
                <p>
                    <button onclick="post('/api/scheduler/start')">Start</button>
                    <button onclick="post('/api/scheduler/stop')">Stop</button>
                    <input id="interval" type="number" min="10" placeholder="seconds">
                    <button onclick="setInterval_()">Set interval</button>
                </p>
            </div>
            <div class="panel">
                <h2>Sources</h2>
                <table id="sources"><tr><th>Source</th><th>Score</th><th>Level</th><th></th></tr></table>
            </div>
            <div class="panel" style="grid-column: span 2;">
                <h2>Recent analyses</h2>
                <table id="history">
                    <tr><th>Time</th><th>Source</th><th>Road</th><th>Weather</th><th>Total</th><th>Level</th><th>Detections</th></tr>
                </table>
            </div>
        </div>
    </div>
    <script>
        function post(url) {
            return fetch(url, { method: 'POST' }).then(r => r.json()).then(refresh);
        }
        function setInterval_() {
            const v = document.getElementById('interval').value;
            post('/api/scheduler/interval?seconds=' + encodeURIComponent(v));
        }
        function row(cells) {
            return '<tr>' + cells.map(c => '<td>' + c + '</td>').join('') + '</tr>';
        }
        function refresh() {
            fetch('/api/sources').then(r => r.json()).then(data => {
                const rows = data.sources.map(s => row([
                    s.source_id,
                    s.latest ? s.latest.total_score : '--',
                    s.latest ? '<span class="' + s.latest.level + '">' + s.latest.level + '</span>' : '--',
                    '<button onclick="post(\'/api/analyze?source=' + encodeURIComponent(s.source_id) + '\')">Analyze</button>'
                ]));
                document.getElementById('sources').innerHTML =
                    '<tr><th>Source</th><th>Score</th><th>Level</th><th></th></tr>' + rows.join('');
            });
        }
        const status = new EventSource('/api/status/stream');
        status.onmessage = (e) => {
            const data = JSON.parse(e.data);
            const sch = data.scheduler;
            document.getElementById('status-badge').textContent = sch.is_running ? 'Running' : 'Stopped';
            document.getElementById('scheduler').textContent =
                'interval ' + sch.interval_seconds + 's, ' + sch.successful_analyses + '/' + sch.total_analyses + ' ok' +
                (sch.degraded_analyses ? ', ' + sch.degraded_analyses + ' degraded' : '');
            document.getElementById('history').innerHTML =
                '<tr><th>Time</th><th>Source</th><th>Road</th><th>Weather</th><th>Total</th><th>Level</th><th>Detections</th></tr>' +
                data.history.map(h => row([
                    new Date(h.timestamp * 1000).toLocaleTimeString(),
                    h.source_id, h.road_score, h.weather_score, h.total_score,
                    '<span class="' + h.level + '">' + h.level + '</span>', h.num_detections
                ])).join('');
        };
        const reports = new EventSource('/api/reports/stream');
        reports.onmessage = () => refresh();
        refresh();
    </script>
</body>
</html>
`
