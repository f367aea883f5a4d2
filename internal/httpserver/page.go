package httpserver

import (
	"html/template"

	"github.com/ogichanchan/ninja-backup-mate/internal/host"
)

type pageData struct {
	Notices   []host.Notice
	Action    string
	NonceName string
	Nonce     string
}

var adminPage = template.Must(template.New("admin").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Ninja Backup Mate</title>
<style>
body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; margin: 2em; color: #1d2327; }
.notice { padding: 8px 12px; margin: 0 0 12px; border-left: 4px solid #72aee6; background: #fff; box-shadow: 0 1px 1px rgba(0,0,0,.04); }
.notice-error { border-left-color: #d63638; }
.notice-warning { border-left-color: #dba617; }
.notice-success { border-left-color: #00a32a; }
.button-primary { background: #2271b1; border: 1px solid #2271b1; color: #fff; padding: 8px 16px; border-radius: 3px; font-size: 14px; cursor: pointer; }
.notes { margin-top: 30px; padding: 15px; border: 1px solid #ccc; background-color: #f9f9f9; border-radius: 4px; }
</style>
</head>
<body>
<div class="wrap">
<h1>Ninja Backup Mate</h1>
{{range .Notices}}<div class="notice notice-{{.Severity}}"><p>{{.Message}}</p></div>
{{end}}
<p>Click the button below to perform a quick "ninja" backup of your WordPress database and essential custom files (themes, plugins, config).</p>
<p>This backup EXCLUDES core WordPress files and your uploads directory to keep the backup fast and focused on your customizations.</p>
<form method="post" action="{{.Action}}">
<input type="hidden" name="{{.NonceName}}" value="{{.Nonce}}">
<p class="submit"><button type="submit" class="button button-primary">Perform Ninja Backup Now!</button></p>
</form>
<div class="notes">
<h2>Important Notes:</h2>
<ul>
<li>The backup file will be generated and offered for download automatically.</li>
<li>Ensure your server has sufficient memory and disk space for large backups, though this "ninja" backup is designed to be fast.</li>
<li>Always download and store your backups in a safe, off-site location.</li>
</ul>
</div>
</div>
</body>
</html>
`))
