package model

import (
	_ "embed"
	"fmt"
	"sync"
)

//go:embed imagenet_classes.txt
var imagenetClasses []byte

var (
	imagenetOnce   sync.Once
	imagenetLabels Labels
)

// ImageNetLabels returns the built-in ILSVRC-2012 class table, index 0
// ("tench") through 999 ("toilet tissue").
func ImageNetLabels() Labels {
	imagenetOnce.Do(func() {
		names, err := parseTextLabels(imagenetClasses)
		if err != nil || len(names) != NumClasses {
			panic(fmt.Sprintf("model: embedded class table has %d entries: %v", len(names), err))
		}
		imagenetLabels = Labels{names: names}
	})
	return imagenetLabels
}
