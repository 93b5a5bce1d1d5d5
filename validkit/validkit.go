// Package validkit validates the JSON body of a mail request and turns it
// into a mailkit.Message.
package validkit

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"slices"
	"strings"

	"github.com/plainq/mailrelay/mailkit"
)

// Messages returned to the client.
const (
	MsgNotObject         = "Request body must be a JSON object"
	MsgFrom              = "Invalid sender email address"
	MsgToArray           = "To must be an array of email addresses"
	MsgToItem            = "Invalid email address in To field"
	MsgCcArray           = "Cc must be an array of email addresses"
	MsgCcItem            = "Invalid email address in Cc field"
	MsgBccArray          = "Bcc must be an array of email addresses"
	MsgBccItem           = "Invalid email address in Bcc field"
	MsgSubject           = "Subject cannot be empty"
	MsgText              = "Message cannot be empty"
	MsgHTML              = "html cannot be empty"
	MsgBody              = "Each email must contain either `text` or `html`, but not both or neither"
	MsgAttachments       = "Attachments must be an array of objects"
	MsgAttachmentObject  = "Attachment must be an object"
	MsgFilename          = "Attachment filename must be a string"
	MsgHref              = "Attachment href must be a URL"
	MsgContent           = "Attachment content must be a string."
	MsgContentEncoding   = "Attachment content must be base64 encoded."
	MsgCID               = "cid must be a string"
	MsgAttachmentSource  = "Each attachment must contain either `href` or `content`, but not both or neither."
	MsgAttachmentField   = "Attachment contains an invalid field: "
	MsgInvalidKeysPrefix = "Invalid keys found in request body: "
)

var (
	messageKeys    = []string{"from", "to", "cc", "bcc", "subject", "text", "html", "attachments"}
	attachmentKeys = []string{"filename", "href", "content", "cid"}
)

// MessageRules are the rules a mail request body must satisfy, in evaluation order.
var MessageRules = []Rule{
	RequiredEmail{Field: "from", Msg: MsgFrom},
	EmailList{Field: "to", Required: true, NonEmpty: true, ArrayMsg: MsgToArray, ItemMsg: MsgToItem},
	NonEmptyString{Field: "subject", Required: true, Msg: MsgSubject},
	EmailList{Field: "cc", ArrayMsg: MsgCcArray, ItemMsg: MsgCcItem},
	EmailList{Field: "bcc", ArrayMsg: MsgBccArray, ItemMsg: MsgBccItem},
	NonEmptyString{Field: "text", Msg: MsgText},
	NonEmptyString{Field: "html", Msg: MsgHTML},
	Exclusive{A: "text", B: "html", Path: "text", Msg: MsgBody},
	ObjectArray{
		Field:     "attachments",
		ArrayMsg:  MsgAttachments,
		ObjectMsg: MsgAttachmentObject,
		Item:      checkAttachment,
	},
	ClosedSchema{Allowed: messageKeys, Prefix: MsgInvalidKeysPrefix},
}

func checkAttachment(path string, obj Document) Errors {
	var errs Errors

	if _, ok := obj["filename"].(string); !ok {
		errs.add(path+".filename", MsgFilename)
	}

	if v, present := obj["href"]; present {
		if s, ok := v.(string); !ok || !IsHTTPURL(s) {
			errs.add(path+".href", MsgHref)
		}
	}

	errs = append(errs, OptionalString{Field: "content", Msg: MsgContent}.Check(obj).at(path)...)
	errs = append(errs, Base64String{Field: "content", Msg: MsgContentEncoding}.Check(obj).at(path)...)
	errs = append(errs, OptionalString{Field: "cid", Msg: MsgCID}.Check(obj).at(path)...)
	errs = append(errs, Exclusive{A: "href", B: "content", Msg: MsgAttachmentSource}.Check(obj).at(path)...)

	var extra []string
	for key := range obj {
		if !slices.Contains(attachmentKeys, key) {
			extra = append(extra, key)
		}
	}

	slices.Sort(extra)

	for _, key := range extra {
		errs.add(path, MsgAttachmentField+key)
	}

	return errs
}

// at prefixes every path with parent.
func (e Errors) at(parent string) Errors {
	for i := range e {
		if e[i].Path == "" {
			e[i].Path = parent
			continue
		}

		e[i].Path = parent + "." + e[i].Path
	}

	return e
}

// Validate decodes raw and checks it against MessageRules. On failure the
// returned error is Errors. Validating the same payload always yields the
// same verdict.
func Validate(raw []byte) (*mailkit.Message, error) {
	doc, err := decodeObject(raw)
	if err != nil {
		var errs Errors
		errs.add("", MsgNotObject)

		return nil, errs
	}

	if errs := Apply(doc, MessageRules...); len(errs) > 0 {
		return nil, errs
	}

	return build(doc), nil
}

func decodeObject(raw []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after JSON value")
	}

	doc, ok := v.(map[string]any)
	if !ok {
		return nil, errors.New("not a JSON object")
	}

	return doc, nil
}

// build converts a document that passed MessageRules.
func build(doc Document) *mailkit.Message {
	m := mailkit.Message{
		From:    doc["from"].(string),
		To:      stringList(doc["to"]),
		Cc:      stringList(doc["cc"]),
		Bcc:     stringList(doc["bcc"]),
		Subject: SanitizeHeader(doc["subject"].(string)),
	}

	m.Text, _ = doc["text"].(string)
	m.HTML, _ = doc["html"].(string)

	list, _ := doc["attachments"].([]any)
	for _, item := range list {
		obj := item.(map[string]any)

		a := mailkit.Attachment{
			Filename: SanitizeHeader(obj["filename"].(string)),
		}

		a.Href, _ = obj["href"].(string)
		a.CID, _ = obj["cid"].(string)
		a.CID = SanitizeHeader(a.CID)

		if content, ok := obj["content"].(string); ok && content != "" {
			a.Content, _ = base64.StdEncoding.DecodeString(content)
		}

		m.Attachments = append(m.Attachments, &a)
	}

	return &m
}

func stringList(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}

	out := make([]string, 0, len(list))
	for _, item := range list {
		out = append(out, item.(string))
	}

	return out
}

var headerReplacer = strings.NewReplacer("\r", "", "\n", "", "\x00", "")

// SanitizeHeader removes characters which could inject extra header lines.
func SanitizeHeader(s string) string { return headerReplacer.Replace(s) }
