package cmds

import (
	"debug/dwarf"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dwloc/dwloc/cmd/dwloc/cmds/helphelpers"
	"github.com/dwloc/dwloc/pkg/config"
	"github.com/dwloc/dwloc/pkg/dwarf/godwarf"
	"github.com/dwloc/dwloc/pkg/dwarf/loclist"
	"github.com/dwloc/dwloc/pkg/dwarf/op"
	"github.com/dwloc/dwloc/pkg/dwarf/split"
	"github.com/dwloc/dwloc/pkg/locate"
	"github.com/dwloc/dwloc/pkg/logflags"
)

const version string = "0.1.0"

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// debugInfoDirectories is a quoted list of directories searched for
	// split debug files, overriding the configuration file.
	debugInfoDirectories string

	conf *config.Config
)

const dwlocLongDesc = `dwloc inspects the DWARF debugging information of ELF binaries.

It resolves split (.dwo) compilation units and evaluates the location
expressions of variables and parameters into a readable classification.`

// New returns an initialized command tree.
func New() *cobra.Command {
	conf = config.LoadConfig()

	rootCommand := &cobra.Command{
		Use:   "dwloc",
		Short: "dwloc inspects DWARF location information.",
		Long:  dwlocLongDesc,
	}
	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debug logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", "Comma separated list of components that should produce debug output (locate, split).")
	rootCommand.PersistentFlags().StringVar(&debugInfoDirectories, "debug-info-directories", "", "Directories searched for split debug files, overriding the configuration file.")

	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("dwloc version: " + version)
		},
	}
	rootCommand.AddCommand(versionCommand)

	varlocsCommand := &cobra.Command{
		Use:   "varlocs <binary>",
		Short: "Print the location of every variable of every function.",
		Long: `Print, for every function and every inlined instance, each variable
and formal parameter with its classified location per PC range.`,
		Args: cobra.ExactArgs(1),
		RunE: varlocsCmd,
	}
	rootCommand.AddCommand(varlocsCommand)

	exprlocsCommand := &cobra.Command{
		Use:   "exprlocs <binary>",
		Short: "Print every attribute holding a location expression.",
		Long: `Walk all debugging information entries and print every attribute that
holds a DWARF expression, classified.`,
		Args: cobra.ExactArgs(1),
		RunE: exprlocsCmd,
	}
	rootCommand.AddCommand(exprlocsCommand)

	defaultHelpFunc := rootCommand.HelpFunc()
	rootCommand.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		helphelpers.Prepare(cmd)
		defaultHelpFunc(cmd, args)
	})

	return rootCommand
}

func openImage(path string) (*locate.Image, error) {
	if err := logflags.Setup(log, logOutput); err != nil {
		return nil, err
	}
	if debugInfoDirectories != "" {
		conf.DebugInfoDirectories = config.SplitQuotedFields(debugInfoDirectories, '\'')
	}
	return locate.Open(path, conf)
}

func varlocsCmd(cmd *cobra.Command, args []string) error {
	img, err := openImage(args[0])
	if err != nil {
		return err
	}
	defer img.Close()

	fmt.Printf("module '%s'\n", args[0])
	printUnits(img)

	return img.Functions(func(fn *locate.Function) error {
		kind := "function"
		if fn.Inlined {
			kind = "inlined"
		}
		fmt.Printf("%s '%s'@%#x\n", kind, fn.Name, fn.EntryPC)

		if godwarf.AttrField(fn.Tree.Entry, dwarf.AttrFrameBase) != nil {
			printRanged(img, fn.Tree, dwarf.AttrFrameBase, "  frame base", false)
		}
		printVariables(img, fn, fn.Tree)
		return nil
	})
}

func printUnits(img *locate.Image) {
	for _, u := range img.Units() {
		if u.Kind != split.KindSkeleton {
			continue
		}
		sp := img.ResolveSplit(u)
		if sp != nil {
			fmt.Printf("CU '%s': split unit '%s' {%#x}\n", u.Name, u.DwoName, uint64(sp.Sig))
		} else {
			fmt.Printf("CU '%s': split unit '%s' not found\n", u.Name, u.DwoName)
		}
	}
}

func printVariables(img *locate.Image, fn *locate.Function, node *godwarf.Tree) {
	for _, child := range node.Children {
		switch child.Tag {
		case dwarf.TagVariable, dwarf.TagFormalParameter:
			kind := "variable"
			if child.Tag == dwarf.TagFormalParameter {
				kind = "parameter"
			}
			fmt.Printf("  %s '%s'\n", kind, dieName(child))
			printRanged(img, child, dwarf.AttrLocation, "   ", fn.HasFrameBase)
		case dwarf.TagSubprogram, dwarf.TagInlinedSubroutine:
			// Visited as their own function.
		default:
			printVariables(img, fn, child)
		}
	}
}

func printRanged(img *locate.Image, tree *godwarf.Tree, attr dwarf.Attr, prefix string, hasFrameBase bool) {
	field := godwarf.AttrField(tree.Entry, attr)
	if loclist.Classify(field) == loclist.ClassNone {
		fmt.Printf("%s <no location>\n", prefix)
		return
	}
	err := img.RangedLocations(tree, attr, func(e *loclist.Entry) bool {
		if e.Empty() {
			fmt.Printf("%s [%#x,%#x) (empty)\n", prefix, e.LowPC, e.HighPC)
			return true
		}
		ctx := img.ContextFor(tree, e.LowPC, hasFrameBase)
		res, err := op.Eval(e.Instr, ctx)
		if err != nil {
			fmt.Printf("%s [%#x,%#x) <error: %v>\n", prefix, e.LowPC, e.HighPC, err)
			return true
		}
		fmt.Printf("%s [%#x,%#x) %s\n", prefix, e.LowPC, e.HighPC, res)
		return true
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", prefix, err)
	}
}

func exprlocsCmd(cmd *cobra.Command, args []string) error {
	img, err := openImage(args[0])
	if err != nil {
		return err
	}
	defer img.Close()

	rdr := img.DwarfData().Reader()
	for {
		e, err := rdr.Next()
		if err != nil {
			return err
		}
		if e == nil {
			break
		}
		for i := range e.Field {
			field := &e.Field[i]
			if field.Class != dwarf.ClassExprLoc && field.Class != dwarf.ClassBlock {
				continue
			}
			expr, ok := field.Val.([]byte)
			if !ok {
				continue
			}
			tree := godwarf.EntryToTree(e)
			ctx := img.ContextFor(tree, 0, true)
			ctx.Debug = true
			res, err := op.Eval(expr, ctx)
			if err != nil {
				fmt.Printf("[%#x] %v %v <error: %v>\n", e.Offset, e.Tag, field.Attr, err)
				continue
			}
			fmt.Printf("[%#x] %v %v %s\n", e.Offset, e.Tag, field.Attr, res)
		}
	}
	return nil
}

func dieName(tree *godwarf.Tree) string {
	name, _ := tree.Entry.Val(dwarf.AttrName).(string)
	return name
}
