package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"UltimateDJ/core/console"
	"UltimateDJ/model"

	"github.com/chzyer/readline"
)

// scratchWidth is the virtual jog width scratch gestures are given in.
const scratchWidth = 100.0

var errQuit = errors.New("quit")

type commandSpec struct {
	deck    bool // 第一个参数是唱盘 ID
	minArgs int  // 唱盘之后的参数个数
	usage   string
}

var commandSpecs = map[string]commandSpec{
	"tracks":   {usage: "tracks"},
	"search":   {minArgs: 1, usage: "search <query>"},
	"load":     {deck: true, minArgs: 1, usage: "load <A|B> <trackId> [play]"},
	"eject":    {deck: true, usage: "eject <A|B>"},
	"queue":    {usage: "queue"},
	"enqueue":  {minArgs: 1, usage: "enqueue <trackId>"},
	"dequeue":  {minArgs: 1, usage: "dequeue <index>"},
	"next":     {usage: "next"},
	"play":     {deck: true, usage: "play <A|B>"},
	"pause":    {deck: true, usage: "pause <A|B>"},
	"toggle":   {deck: true, usage: "toggle <A|B>"},
	"seek":     {deck: true, minArgs: 1, usage: "seek <A|B> <seconds>"},
	"vol":      {deck: true, minArgs: 1, usage: "vol <A|B> <0..1>"},
	"pitch":    {deck: true, minArgs: 1, usage: "pitch <A|B> <0.5..1.5>"},
	"xfade":    {minArgs: 1, usage: "xfade <0..100>"},
	"promote":  {usage: "promote"},
	"sync":     {deck: true, usage: "sync <A|B>"},
	"beatsync": {deck: true, usage: "beatsync <A|B>"},
	"scratch":  {deck: true, minArgs: 2, usage: "scratch <A|B> <x0> <x1> [x2...] (0..100)"},
	"layer":    {minArgs: 1, usage: "layer <video|backdrop|slideshow|lyrics> [on|off]"},
	"shader":   {minArgs: 1, usage: "shader <preset>"},
	"photos":   {usage: "photos [folder]"},
	"lyrics":   {minArgs: 1, usage: "lyrics <+ms|-ms>"},
	"unlock":   {usage: "unlock"},
	"status":   {usage: "status"},
	"help":     {usage: "help"},
	"quit":     {usage: "quit"},
}

type command struct {
	name string
	deck model.DeckID
	args []string
}

func parseLine(line string) (command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{}, nil
	}
	name := strings.ToLower(fields[0])
	if name == "exit" {
		name = "quit"
	}
	spec, ok := commandSpecs[name]
	if !ok {
		return command{}, fmt.Errorf("unknown command %q, try help", fields[0])
	}
	cmd := command{name: name, args: fields[1:]}
	if spec.deck {
		if len(cmd.args) == 0 {
			return command{}, fmt.Errorf("usage: %s", spec.usage)
		}
		id, err := model.ParseDeckID(cmd.args[0])
		if err != nil {
			return command{}, err
		}
		cmd.deck, cmd.args = id, cmd.args[1:]
	}
	if len(cmd.args) < spec.minArgs {
		return command{}, fmt.Errorf("usage: %s", spec.usage)
	}
	return cmd, nil
}

func (c command) float(i int) (float64, error) {
	v, err := strconv.ParseFloat(c.args[i], 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a number", c.name, c.args[i])
	}
	return v, nil
}

// execute runs one parsed command against the console.
func execute(ctx context.Context, dj *console.Console, cmd command, out io.Writer) error {
	switch cmd.name {
	case "":
		return nil
	case "quit":
		return errQuit
	case "help":
		printHelp(out)
	case "status":
		fmt.Fprint(out, dj.Status().Render(60))
	case "unlock":
		if err := dj.Unlock(); err != nil {
			return err
		}
		fmt.Fprintln(out, "audio output unlocked")

	case "tracks":
		tracks, err := dj.Refresh(ctx)
		if err != nil {
			return err
		}
		printTracks(out, tracks)
	case "search":
		tracks, err := dj.Search(ctx, strings.Join(cmd.args, " "))
		if err != nil {
			return err
		}
		printTracks(out, tracks)
	case "load":
		t, err := dj.Resolve(ctx, cmd.args[0])
		if err != nil {
			return err
		}
		autoplay := len(cmd.args) > 1 && cmd.args[1] == "play"
		return dj.Load(cmd.deck, t, autoplay)
	case "eject":
		return dj.Eject(cmd.deck)
	case "queue":
		for i, t := range dj.Queue() {
			fmt.Fprintf(out, "%2d  %s  %s\n", i, t.ID, trackLabel(t))
		}
	case "enqueue":
		t, err := dj.Resolve(ctx, cmd.args[0])
		if err != nil {
			return err
		}
		dj.Enqueue(t)
	case "dequeue":
		i, err := strconv.Atoi(cmd.args[0])
		if err != nil {
			return fmt.Errorf("dequeue: %q is not an index", cmd.args[0])
		}
		return dj.Dequeue(i)
	case "next":
		deck, err := dj.LoadNext()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "loaded next track on deck %s\n", deck)

	case "play":
		return dj.Play(cmd.deck)
	case "pause":
		return dj.Pause(cmd.deck)
	case "toggle":
		return dj.Toggle(cmd.deck)
	case "seek":
		t, err := cmd.float(0)
		if err != nil {
			return err
		}
		_, err = dj.Seek(cmd.deck, t)
		return err
	case "vol":
		v, err := cmd.float(0)
		if err != nil {
			return err
		}
		return dj.SetVolume(cmd.deck, v)
	case "pitch":
		p, err := cmd.float(0)
		if err != nil {
			return err
		}
		return dj.SetPitch(cmd.deck, p)
	case "xfade":
		x, err := cmd.float(0)
		if err != nil {
			return err
		}
		return dj.SetCrossfader(x)
	case "promote":
		return dj.Promote()
	case "sync":
		p, err := dj.Sync(cmd.deck)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "deck %s pitch %.3f\n", cmd.deck, p)
	case "beatsync":
		t, err := dj.BeatSync(cmd.deck)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "deck %s aligned at %.2fs\n", cmd.deck, t)
	case "scratch":
		return scratchGesture(dj, cmd)

	case "layer":
		if len(cmd.args) > 1 {
			return dj.SetLayer(cmd.args[0], cmd.args[1] == "on")
		}
		on, err := dj.ToggleLayer(cmd.args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %s\n", cmd.args[0], onOff(on))
	case "shader":
		return dj.SelectShader(cmd.args[0])
	case "photos":
		return dj.SetPhotosFolder(strings.Join(cmd.args, " "))
	case "lyrics":
		d, err := strconv.Atoi(cmd.args[0])
		if err != nil {
			return fmt.Errorf("lyrics: %q is not a millisecond offset", cmd.args[0])
		}
		offset, err := dj.AdjustLyricsOffset(d)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "lyrics offset %dms\n", offset)
	}
	return nil
}

// scratchGesture replays a drag across the given jog positions.
func scratchGesture(dj *console.Console, cmd command) error {
	xs := make([]float64, len(cmd.args))
	for i := range cmd.args {
		x, err := cmd.float(i)
		if err != nil {
			return err
		}
		xs[i] = x
	}
	if _, err := dj.ScratchBegin(cmd.deck, xs[0], scratchWidth); err != nil {
		return err
	}
	for _, x := range xs[1:] {
		time.Sleep(30 * time.Millisecond)
		if _, err := dj.ScratchMove(cmd.deck, x); err != nil {
			return err
		}
	}
	_, err := dj.ScratchEnd(cmd.deck)
	return err
}

func runREPL(ctx context.Context, dj *console.Console, historyFile string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:       "dj> ",
		HistoryFile:  historyFile,
		AutoComplete: completer(),
	})
	if err != nil {
		return fmt.Errorf("failed to start readline: %w", err)
	}
	defer rl.Close()

	out := rl.Stdout()
	fmt.Fprintln(out, "UltimateDJ console. Run unlock to enable audio, help for commands.")
	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				return nil
			}
			return err
		}
		cmd, err := parseLine(line)
		if err != nil {
			fmt.Fprintln(out, err)
			continue
		}
		if err := execute(ctx, dj, cmd, out); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			fmt.Fprintln(out, "error:", err)
		}
	}
}

func completer() readline.AutoCompleter {
	decks := func() []readline.PrefixCompleterInterface {
		return []readline.PrefixCompleterInterface{readline.PcItem("A"), readline.PcItem("B")}
	}
	var items []readline.PrefixCompleterInterface
	for name, spec := range commandSpecs {
		if spec.deck {
			items = append(items, readline.PcItem(name, decks()...))
			continue
		}
		if name == "layer" {
			items = append(items, readline.PcItem(name,
				readline.PcItem(model.LayerVideo),
				readline.PcItem(model.LayerBackdrop),
				readline.PcItem(model.LayerSlideshow),
				readline.PcItem(model.LayerLyrics),
			))
			continue
		}
		items = append(items, readline.PcItem(name))
	}
	return readline.NewPrefixCompleter(items...)
}

func printHelp(out io.Writer) {
	names := []string{
		"tracks", "search", "load", "eject", "queue", "enqueue", "dequeue", "next",
		"play", "pause", "toggle", "seek", "vol", "pitch", "xfade", "promote",
		"sync", "beatsync", "scratch", "layer", "shader", "photos", "lyrics",
		"unlock", "status", "quit",
	}
	for _, n := range names {
		fmt.Fprintln(out, "  "+commandSpecs[n].usage)
	}
}

func printTracks(out io.Writer, tracks []model.Track) {
	for _, t := range tracks {
		bpm := "   -  "
		if v, ok := t.StoredBPM(); ok {
			bpm = fmt.Sprintf("%6.1f", v)
		}
		fmt.Fprintf(out, "%s  %s  %s\n", t.ID, bpm, trackLabel(t))
	}
}

func trackLabel(t model.Track) string {
	if t.Artist == "" {
		return t.Title
	}
	return t.Artist + " - " + t.Title
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
