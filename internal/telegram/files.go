package telegram

import (
	"context"
	"os"
	"path"

	"github.com/go-faster/errors"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// AttachmentOpener reads stored screenshots by reference.
type AttachmentOpener interface {
	Open(ref string) (*os.File, error)
}

// SendAttachments uploads each referenced screenshot as a photo. threadID
// selects the forum topic; zero posts to the main chat.
func SendAttachments(ctx context.Context, b Sender, chatID int64, threadID int, files AttachmentOpener, refs []string, caption string) error {
	for i, ref := range refs {
		if err := sendAttachment(ctx, b, chatID, threadID, files, ref, caption, i); err != nil {
			return err
		}
	}
	return nil
}

func sendAttachment(ctx context.Context, b Sender, chatID int64, threadID int, files AttachmentOpener, ref, caption string, i int) error {
	f, err := files.Open(ref)
	if err != nil {
		return errors.Wrapf(err, "open %s", ref)
	}
	defer f.Close()

	params := &bot.SendPhotoParams{
		ChatID:          chatID,
		MessageThreadID: threadID,
		Photo:           &models.InputFileUpload{Filename: path.Base(ref), Data: f},
	}
	// caption only on the first photo
	if i == 0 {
		params.Caption = caption
	}
	if _, err := b.SendPhoto(ctx, params); err != nil {
		return errors.Wrapf(err, "send photo %s", ref)
	}
	return nil
}
