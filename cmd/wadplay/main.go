package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ivanfourie/wad-music-test/pkg/audio"
	"github.com/ivanfourie/wad-music-test/pkg/midi"
	"github.com/ivanfourie/wad-music-test/pkg/mus"
	"github.com/ivanfourie/wad-music-test/pkg/player"
	"github.com/ivanfourie/wad-music-test/pkg/tui"
	"github.com/ivanfourie/wad-music-test/pkg/wad"
)

func main() {
	sf2 := flag.String("sf2", os.Getenv("WADPLAY_SF2"), "SoundFont (.sf2) for synthesis")
	rate := flag.Int("rate", 44100, "Output sample rate in Hz")
	list := flag.Bool("list", false, "List music lumps and exit")
	play := flag.String("play", "", "Play one song (lump name or bare token like E1M1) and exit")
	wavOut := flag.String("wav", "", "With -play: render to this WAV file instead of the audio device")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] FILE.wad [patch.wad ...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	log.SetFlags(0)
	log.SetPrefix("wadplay: ")

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	stack, err := loadStack(flag.Args())
	if err != nil {
		log.Fatal(err)
	}

	songs := stack.NamesWithPrefixes(wad.DefaultMusicPrefixes)

	if *list {
		for _, name := range songs {
			fmt.Println(name)
		}
		return
	}

	load := func(name string) (*midi.Timeline, error) {
		data, err := stack.ReadName(name)
		if err != nil {
			return nil, err
		}
		score, err := mus.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		smfData, err := midi.Encode(score)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return midi.BuildTimeline(smfData)
	}

	if *sf2 == "" {
		log.Fatal("no SoundFont: pass -sf2 or set WADPLAY_SF2")
	}
	synth, err := audio.NewSynth(*sf2, *rate)
	if err != nil {
		log.Fatal(err)
	}

	if *play != "" {
		name, ok := wad.ResolveSong(songs, *play, wad.DefaultMusicPrefixes)
		if !ok {
			if matches := wad.SuggestSongs(songs, *play); len(matches) > 0 {
				log.Fatalf("no such song %q, did you mean %s?", *play, strings.Join(matches, ", "))
			}
			log.Fatalf("no such song %q (try -list)", *play)
		}
		tl, err := load(name)
		if err != nil {
			log.Fatal(err)
		}
		if *wavOut != "" {
			if err := exportWAV(*wavOut, tl, synth); err != nil {
				log.Fatal(err)
			}
			return
		}
		if err := playOnce(tl, synth); err != nil {
			log.Fatal(err)
		}
		return
	}

	// Default: interactive browser.
	out, err := audio.NewRealtimeOutput(synth)
	if err != nil {
		log.Fatal(err)
	}
	defer out.Close()

	driver := player.New(synth, nil)
	model := tui.NewModel(songs, load, driver)
	if _, err := tea.NewProgram(model).Run(); err != nil {
		log.Fatal(err)
	}
}

// loadStack opens the base WAD plus any patch WADs layered on top.
func loadStack(paths []string) (*wad.Stack, error) {
	base, err := wad.Load(paths[0])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", paths[0], err)
	}
	stack := wad.NewStack(base)
	for _, p := range paths[1:] {
		patch, err := wad.Load(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		stack.Add(patch)
	}
	return stack, nil
}

func exportWAV(path string, tl *midi.Timeline, synth *audio.Synth) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := audio.ExportWAV(f, tl, synth); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// playOnce plays a single timeline to the audio device and returns when
// the song finishes.
func playOnce(tl *midi.Timeline, synth *audio.Synth) error {
	out, err := audio.NewRealtimeOutput(synth)
	if err != nil {
		return err
	}
	defer out.Close()

	driver := player.New(synth, nil)
	driver.Load(tl)
	<-driver.Done()
	return nil
}
