// Package appcast models and parses update feeds ("appcasts"): RSS documents
// whose items carry an enclosure describing a downloadable release.
//
// Only the first item of a feed is authoritative; feeds list the newest
// release first.
package appcast

import (
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html/charset"
)

// SparkleNamespace is the namespace of the vendor enclosure attributes.
const SparkleNamespace = "http://www.andymatuschak.org/xml-namespaces/sparkle"

// Appcast is the root <rss> element of a feed.
type Appcast struct {
	XMLName xml.Name `xml:"rss"`
	Version string   `xml:"version,attr"`
	Channel *Channel `xml:"channel"`
}

// Channel holds the feed metadata and its ordered releases.
type Channel struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	Language    string `xml:"language"`
	Items       []Item `xml:"item"`
}

// Item is a single release entry.
type Item struct {
	Title       string     `xml:"title"`
	Description string     `xml:"description"`
	PubDate     string     `xml:"pubDate"`
	Enclosure   *Enclosure `xml:"enclosure"`
}

// Enclosure describes the downloadable artifact of a release.
//
// The checksum fields MD5 and SHA1 are verified after download when present.
// DSASignature is carried for completeness and never verified.
type Enclosure struct {
	URL                string `xml:"url,attr"`
	Length             int64  `xml:"length,attr"`
	Type               string `xml:"type,attr"`
	Version            string `xml:"http://www.andymatuschak.org/xml-namespaces/sparkle version,attr"`
	ShortVersionString string `xml:"http://www.andymatuschak.org/xml-namespaces/sparkle shortVersionString,attr"`
	DSASignature       string `xml:"http://www.andymatuschak.org/xml-namespaces/sparkle dsaSignature,attr"`
	MD5                string `xml:"http://www.andymatuschak.org/xml-namespaces/sparkle md5,attr"`
	SHA1               string `xml:"http://www.andymatuschak.org/xml-namespaces/sparkle sha1,attr"`
}

// Title returns the channel title, or "" when the feed has no channel.
func (a *Appcast) Title() string {
	if a == nil || a.Channel == nil {
		return ""
	}
	return a.Channel.Title
}

// LatestItem returns the head item, or nil when the feed lists no releases.
func (a *Appcast) LatestItem() *Item {
	if a == nil || a.Channel == nil || len(a.Channel.Items) == 0 {
		return nil
	}
	return &a.Channel.Items[0]
}

// LatestEnclosure returns the enclosure of the head item, or nil.
func (a *Appcast) LatestEnclosure() *Enclosure {
	item := a.LatestItem()
	if item == nil {
		return nil
	}
	return item.Enclosure
}

// LatestVersion returns the version of the head release, or "" when the feed
// carries no version information.
func (a *Appcast) LatestVersion() string {
	enc := a.LatestEnclosure()
	if enc == nil {
		return ""
	}
	return strings.TrimSpace(enc.Version)
}

// DisplayVersion prefers the short version string over the build version.
func (e *Enclosure) DisplayVersion() string {
	if e == nil {
		return ""
	}
	if s := strings.TrimSpace(e.ShortVersionString); s != "" {
		return s
	}
	return strings.TrimSpace(e.Version)
}

// FileName returns the last path segment of the enclosure URL.
func (e *Enclosure) FileName() (string, error) {
	if e == nil || strings.TrimSpace(e.URL) == "" {
		return "", fmt.Errorf("enclosure has no url")
	}
	u, err := url.Parse(strings.TrimSpace(e.URL))
	if err != nil {
		return "", fmt.Errorf("parse enclosure url: %w", err)
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" || name == ".." {
		return "", fmt.Errorf("enclosure url %q has no file name", e.URL)
	}
	return name, nil
}

// Parse decodes a feed document. Non-UTF-8 documents are converted using
// their declared encoding.
func Parse(r io.Reader) (*Appcast, error) {
	decoder := xml.NewDecoder(r)
	decoder.CharsetReader = charset.NewReaderLabel
	decoder.Entity = xml.HTMLEntity

	var feed Appcast
	if err := decoder.Decode(&feed); err != nil {
		return nil, fmt.Errorf("decode appcast: %w", err)
	}
	return &feed, nil
}
