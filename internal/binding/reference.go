package binding

import (
	"strings"

	"github.com/keithlinneman/linnemanlabs-contentsync/internal/content"
)

type Kind int

const (
	KindInvalid Kind = iota
	KindTranslation
	KindColor
	KindImage
	KindStore
	KindMeta
)

func (k Kind) String() string {
	switch k {
	case KindTranslation:
		return "translation"
	case KindColor:
		return "color"
	case KindImage:
		return "image"
	case KindStore:
		return "store"
	case KindMeta:
		return "meta"
	default:
		return "invalid"
	}
}

// Read-only meta references.
const (
	MetaLanguage  = "language"
	MetaLanguages = "languages"
	MetaAuthToken = "auth_token"
)

// Reference is a parsed reference string. For translations Tab holds the
// prefix; for every other kind Key holds the remainder.
type Reference struct {
	Kind Kind
	Tab  string
	Key  string
}

// Parse splits ref on its first colon. Any prefix other than color, image,
// store and meta names a tab. A reference without a colon is invalid.
func Parse(ref string) (Reference, bool) {
	prefix, rest, ok := strings.Cut(ref, ":")
	if !ok {
		return Reference{}, false
	}
	switch prefix {
	case "color":
		return Reference{Kind: KindColor, Key: rest}, true
	case "image":
		return Reference{Kind: KindImage, Key: rest}, true
	case "store":
		return Reference{Kind: KindStore, Key: rest}, true
	case "meta":
		return Reference{Kind: KindMeta, Key: rest}, true
	default:
		return Reference{Kind: KindTranslation, Tab: prefix, Key: rest}, true
	}
}

func (r Reference) String() string {
	switch r.Kind {
	case KindTranslation:
		return r.Tab + ":" + r.Key
	case KindColor:
		return "color:" + r.Key
	case KindImage:
		return "image:" + r.Key
	case KindStore:
		return "store:" + r.Key
	case KindMeta:
		return "meta:" + r.Key
	default:
		return ""
	}
}

// Lookup is the read side references resolve against. Content getters
// return the cached value or a fallback immediately and may subscribe the
// scope and schedule a background sync as a side effect.
type Lookup interface {
	Translation(key, tab string) string
	Color(key string) string
	Image(key string) string
	DataStore(apiIdentifier string) []content.Record
	Language() string
	Languages() []string
	Token() string
}

// Resolve evaluates ref against l. Invalid references and unknown meta
// keys resolve to nil.
func Resolve(l Lookup, ref string) any {
	r, ok := Parse(ref)
	if !ok {
		return nil
	}
	return r.Resolve(l)
}

func (r Reference) Resolve(l Lookup) any {
	switch r.Kind {
	case KindTranslation:
		return l.Translation(r.Key, r.Tab)
	case KindColor:
		return l.Color(r.Key)
	case KindImage:
		return l.Image(r.Key)
	case KindStore:
		rs := l.DataStore(r.Key)
		if rs == nil {
			rs = []content.Record{}
		}
		return rs
	case KindMeta:
		switch r.Key {
		case MetaLanguage:
			return l.Language()
		case MetaLanguages:
			langs := l.Languages()
			if langs == nil {
				langs = []string{}
			}
			return langs
		case MetaAuthToken:
			return l.Token()
		}
	}
	return nil
}

// TranslationFallback is what a translation resolves to before its tab or
// key is available.
func TranslationFallback(tab, key string) string {
	return "[" + tab + ":" + key + "]"
}
