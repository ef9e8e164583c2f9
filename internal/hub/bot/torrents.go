package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/nmdchub/nmdchub/internal/hub"
	"github.com/nmdchub/nmdchub/internal/logger"
	"github.com/nmdchub/nmdchub/pkg/models"
	"github.com/nmdchub/nmdchub/pkg/store"
)

// taskCtx is the context for store work dispatched from bot commands. Pool
// tasks are not cancellable; shutdown drains them instead.
func taskCtx() context.Context {
	return context.Background()
}

// torrent handles the torrent surface: everyone may fetch the approved
// list, verified users may post, ops approve and remove.
func (b *advancedBot) torrent(from *hub.Session, rest string) {
	sub, arg, _ := strings.Cut(rest, " ")
	switch strings.ToLower(sub) {
	case "get":
		b.torrentGet(from)
	case "pending":
		if from.IsOp() {
			b.torrentPending(from)
			return
		}
		b.reply(from, "Only operators may list pending torrents.")
	case "approve":
		if from.IsOp() {
			b.torrentApprove(from, arg)
			return
		}
		b.reply(from, "Only operators may approve torrents.")
	case "remove":
		if from.IsOp() {
			b.torrentRemove(from, arg)
			return
		}
		b.reply(from, "Only operators may remove torrents.")
	case "":
		b.reply(from, "Usage: torrent {<location> <description>|get}")
	default:
		b.torrentPost(from, sub, arg)
	}
}

// torrentPost records a new posting and tells the ops. Unverified users on a
// restricted hub cannot post.
func (b *advancedBot) torrentPost(from *hub.Session, location, description string) {
	if !from.IsVerified() && !from.IsOp() {
		b.reply(from, "You must be verified to post torrents.")
		return
	}
	if err := models.ValidateTorrentLocation(location); err != nil {
		b.reply(from, err.Error())
		return
	}
	if description == "" {
		b.reply(from, "Usage: torrent <location> <description>")
		return
	}
	row := &models.Torrent{
		AddedBy:     from.AccountID(),
		AddedTime:   time.Now().Unix(),
		Location:    location,
		Description: description,
	}
	nick := from.Nick()
	b.h.Submit(func(ws *store.Store) {
		if err := ws.CreateTorrent(taskCtx(), row); err != nil {
			if err == models.ErrDuplicateTorrent {
				b.reply(from, "That torrent has already been posted.")
				return
			}
			logger.Error("torrent post failed", "nick", nick, "location", location, "error", err)
			b.reply(from, "Error posting torrent.")
			return
		}
		b.reply(from, fmt.Sprintf("Torrent %d posted, awaiting operator approval.", row.OID))
		b.h.EachOp(func(op *hub.Session) {
			if !op.IsBot() {
				b.h.PrivateMessage(op, b.nick,
					fmt.Sprintf("Torrent %d posted by %s: %s (%s)", row.OID, nick, location, description))
			}
		})
	})
}

func (b *advancedBot) torrentApprove(from *hub.Session, arg string) {
	oid, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		b.reply(from, "Usage: torrent approve <id>")
		return
	}
	approver := from.AccountID()
	b.h.Submit(func(ws *store.Store) {
		if err := ws.ApproveTorrent(taskCtx(), uint(oid), approver, time.Now().Unix()); err != nil {
			if err == models.ErrTorrentNotFound {
				b.reply(from, fmt.Sprintf("No pending torrent %d.", oid))
				return
			}
			logger.Error("torrent approve failed", "oid", oid, "error", err)
			b.reply(from, "Error approving torrent.")
			return
		}
		row, err := ws.GetTorrent(taskCtx(), uint(oid))
		if err != nil {
			b.reply(from, fmt.Sprintf("Torrent %d approved.", oid))
			return
		}
		b.h.SecurityBroadcast(fmt.Sprintf("New torrent available: %s (%s)", row.Location, row.Description))
	})
}

func (b *advancedBot) torrentRemove(from *hub.Session, arg string) {
	oid, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		b.reply(from, "Usage: torrent remove <id>")
		return
	}
	b.h.Submit(func(ws *store.Store) {
		if err := ws.RemoveTorrent(taskCtx(), uint(oid)); err != nil {
			if err == models.ErrTorrentNotFound {
				b.reply(from, fmt.Sprintf("No torrent %d.", oid))
				return
			}
			logger.Error("torrent remove failed", "oid", oid, "error", err)
			b.reply(from, "Error removing torrent.")
			return
		}
		b.reply(from, fmt.Sprintf("Torrent %d removed.", oid))
	})
}

func (b *advancedBot) torrentGet(from *hub.Session) {
	b.h.Submit(func(ws *store.Store) {
		rows, err := ws.ListApprovedTorrents(taskCtx(), 0)
		if err != nil {
			logger.Error("torrent list failed", "error", err)
			b.reply(from, "Error listing torrents.")
			return
		}
		if len(rows) == 0 {
			b.reply(from, "No approved torrents.")
			return
		}
		b.reply(from, renderTorrentTable(rows, from.IsOp()))
	})
}

func (b *advancedBot) torrentPending(from *hub.Session) {
	b.h.Submit(func(ws *store.Store) {
		rows, err := ws.ListPendingTorrents(taskCtx())
		if err != nil {
			logger.Error("pending torrent list failed", "error", err)
			b.reply(from, "Error listing pending torrents.")
			return
		}
		if len(rows) == 0 {
			b.reply(from, "No pending torrents.")
			return
		}
		b.reply(from, renderTorrentTable(rows, true))
	})
}

// renderTorrentTable lists torrents for a reply. Row ids are operator
// bookkeeping (approve/remove take them) and are withheld from everyone else.
func renderTorrentTable(rows []models.Torrent, withID bool) string {
	var buf strings.Builder
	table := tablewriter.NewWriter(&buf)
	header := []string{"Posted", "Location", "Description"}
	if withID {
		header = append([]string{"ID"}, header...)
	}
	table.SetHeader(header)
	for _, t := range rows {
		row := []string{
			time.Unix(t.AddedTime, 0).UTC().Format("2006-01-02"),
			t.Location,
			t.Description,
		}
		if withID {
			row = append([]string{strconv.FormatUint(uint64(t.OID), 10)}, row...)
		}
		table.Append(row)
	}
	table.Render()
	return buf.String()
}
