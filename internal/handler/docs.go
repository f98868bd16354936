package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func RegisterDocs(r *gin.Engine) {
	r.GET("/docs", func(c *gin.Context) {
		c.Header("Content-Type", "text/markdown; charset=utf-8")
		c.String(http.StatusOK, `# TokenWars Engine

Two-token prediction competitions on Solana price action.

## Health

- GET /healthz
- GET /readyz

## Competitions

- GET  /api/competitions            (filters: status, created_by, since, until, limit, offset)
- GET  /api/competitions/:id
- POST /api/competitions            {"token_a":{address,symbol,name},"token_b":{...}}
- POST /api/competitions/:id/pause
- POST /api/competitions/:id/resume
- POST /api/competitions/:id/cancel {"reason"}

## Bets

- POST /api/competitions/:id/bets        {"wallet","chosen_token":"token_a"|"token_b"}
- GET  /api/competitions/:id/bets
- POST /api/competitions/:id/bets/claim  {"wallet"}
- GET  /api/leaderboard                  (limit)

## Token pairs

- GET  /api/pairs                   (active_only)
- POST /api/pairs
- POST /api/pairs/:id/active        {"active"}

## Prices

- GET /api/prices/:address/samples  (from, to — RFC3339, default last hour)
- GET /api/prices/:address/latest
- GET /api/prices/tracked

## Automation

- GET  /api/automation/status
- POST /api/automation/enable
- POST /api/automation/disable      {"reason"}

## Events

- GET /api/events/stream — WebSocket stream of competition events. Send
  {"action":"subscribe","types":["competition.phase_changed"]} to narrow the feed.
`)
	})
}
