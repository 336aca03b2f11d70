package sandbox

import (
	"encoding/json"
	"strings"
)

// logMarker prefixes structured log lines emitted by the shim on stderr so
// they can be separated from interpreter diagnostics.
const logMarker = "@msaidizi:log@"

// shimPreamble is the Python runtime prepended to every script. It consumes
// the capability context from stdin and exposes the script surface: read-only
// bot, tracker, params and payload, a log.info/warn sink and a bounded
// http.get/post/put/delete client. Stdout stays reserved for the return sink.
const shimPreamble = `import json as _json
import sys as _sys
import urllib.request as _rq
import urllib.error as _er
from urllib.parse import urlencode as _urlencode

_ctx = {}
try:
    _raw = _sys.stdin.read()
    if _raw.strip():
        _ctx = _json.loads(_raw)
except Exception:
    _ctx = {}
bot = _ctx.get("bot", "")
tracker = _ctx.get("tracker") or {}
params = _ctx.get("params") or {}
payload = _ctx.get("payload") or {}


class _Log:
    def _emit(self, level, msg):
        _sys.stderr.write("@msaidizi:log@ " + _json.dumps({"level": level, "msg": str(msg)}) + "\n")
        _sys.stderr.flush()

    def info(self, msg):
        self._emit("info", msg)

    def warn(self, msg):
        self._emit("warn", msg)


class _HTTP:
    _max_body = 10 * 1024 * 1024

    def _call(self, method, url, headers=None, params=None, body=None, timeout=10):
        if not (url.startswith("http://") or url.startswith("https://")):
            raise ValueError("url must be absolute http(s)")
        timeout = min(float(timeout), 60.0)
        if params:
            url = url + ("&" if "?" in url else "?") + _urlencode(params)
        data = None
        hdrs = dict(headers or {})
        if body is not None:
            data = _json.dumps(body).encode("utf-8")
            hdrs.setdefault("Content-Type", "application/json")
        req = _rq.Request(url, data=data, headers=hdrs, method=method)
        try:
            with _rq.urlopen(req, timeout=timeout) as resp:
                raw = resp.read(self._max_body)
                status = resp.status
                ctype = resp.headers.get("Content-Type", "")
        except _er.HTTPError as e:
            raw = e.read(self._max_body) if e.fp else b""
            status = e.code
            ctype = e.headers.get("Content-Type", "") if e.headers else ""
        out = {"status": status, "json": None, "text": None}
        if "application/json" in ctype:
            try:
                out["json"] = _json.loads(raw.decode("utf-8"))
            except Exception:
                out["text"] = raw.decode("utf-8", "replace")
        else:
            out["text"] = raw.decode("utf-8", "replace")
        return out

    def get(self, url, headers=None, params=None, timeout=10):
        return self._call("GET", url, headers=headers, params=params, timeout=timeout)

    def post(self, url, body=None, headers=None, timeout=10):
        return self._call("POST", url, body=body, headers=headers, timeout=timeout)

    def put(self, url, body=None, headers=None, timeout=10):
        return self._call("PUT", url, body=body, headers=headers, timeout=timeout)

    def delete(self, url, headers=None, timeout=10):
        return self._call("DELETE", url, headers=headers, timeout=timeout)


log = _Log()
http = _HTTP()
del _Log, _HTTP
`

// shimLog is one structured line emitted by the script's log helper.
type shimLog struct {
	Level string `json:"level"`
	Msg   string `json:"msg"`
}

// extractShimLogs splits shim log lines out of stderr, returning them along
// with the remaining interpreter diagnostics.
func extractShimLogs(stderr string) ([]shimLog, string) {
	var logs []shimLog
	var rest []string
	for _, line := range strings.Split(stderr, "\n") {
		trimmed := strings.TrimSpace(line)
		if payload, ok := strings.CutPrefix(trimmed, logMarker+" "); ok {
			var l shimLog
			if json.Unmarshal([]byte(payload), &l) == nil {
				logs = append(logs, l)
				continue
			}
		}
		rest = append(rest, line)
	}
	return logs, strings.Join(rest, "\n")
}
