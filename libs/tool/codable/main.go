package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"go/ast"
	"go/format"
	"go/parser"
	"go/token"
	"go/types"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/tools/go/packages"
)

type codableType struct {
	Name   string
	Fields []codableField
	Size   int
}

type codableField struct {
	Name   string
	Type   string // conversion target as written in the package
	Kind   types.BasicKind
	Len    int // array length, 0 for scalars
	Offset int
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "codable: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fileFlag := flag.String("file", "", "go file containing //go:generate codable")
	errPkg := flag.String("errors", "rovernet/pkg/exception", "package providing ErrShortPayload")
	flag.Parse()

	fileName := strings.TrimSpace(*fileFlag)
	if fileName == "" && flag.NArg() > 0 {
		fileName = strings.TrimSpace(flag.Arg(0))
	}
	if fileName == "" {
		fileName = strings.TrimSpace(os.Getenv("GOFILE"))
	}
	if fileName == "" {
		return errors.New("missing source file; set GOFILE or pass -file")
	}
	fileName = filepath.Base(fileName)
	if filepath.Ext(fileName) != ".go" {
		return fmt.Errorf("source file must be a .go file: %s", fileName)
	}

	dir, err := os.Getwd()
	if err != nil {
		return err
	}

	cfg := &packages.Config{
		Mode: packages.NeedName |
			packages.NeedSyntax |
			packages.NeedTypes |
			packages.NeedTypesInfo |
			packages.NeedFiles |
			packages.NeedCompiledGoFiles,
		Dir: dir,
		ParseFile: func(fset *token.FileSet, filename string, src []byte) (*ast.File, error) {
			return parser.ParseFile(fset, filename, src, parser.ParseComments)
		},
	}
	pkgs, err := packages.Load(cfg, ".")
	if err != nil {
		return err
	}
	if len(pkgs) == 0 {
		return errors.New("no packages found")
	}
	pkg := pkgs[0]
	if len(pkg.Errors) > 0 {
		return fmt.Errorf("type check failed: %s", pkg.Errors[0])
	}
	if pkg.Fset == nil {
		return errors.New("missing fileset")
	}
	if len(pkg.Syntax) == 0 {
		return errors.New("no go files found in package")
	}

	var targetFile *ast.File
	for i, file := range pkg.Syntax {
		var name string
		if i < len(pkg.CompiledGoFiles) {
			name = pkg.CompiledGoFiles[i]
		} else if i < len(pkg.GoFiles) {
			name = pkg.GoFiles[i]
		}
		if filepath.Base(name) == fileName {
			targetFile = file
			break
		}
	}
	if targetFile == nil {
		return fmt.Errorf("file %s not found in package", fileName)
	}

	typesToGenerate, err := collectCodableTypes(targetFile, pkg.TypesInfo, pkg.Fset, pkg.Types)
	if err != nil {
		return err
	}
	if len(typesToGenerate) == 0 {
		return fmt.Errorf("no codable structs found in %s", fileName)
	}

	out, err := render(pkg.Name, *errPkg, typesToGenerate)
	if err != nil {
		return err
	}

	base := strings.TrimSuffix(fileName, ".go")
	outPath := filepath.Join(dir, base+"_codable.go")
	return os.WriteFile(outPath, out, 0o644)
}

func collectCodableTypes(file *ast.File, info *types.Info, fset *token.FileSet, pkg *types.Package) ([]codableType, error) {
	var results []codableType
	for _, decl := range file.Decls {
		gen, ok := decl.(*ast.GenDecl)
		if !ok || gen.Tok != token.TYPE {
			continue
		}
		for _, spec := range gen.Specs {
			typeSpec, ok := spec.(*ast.TypeSpec)
			if !ok {
				continue
			}
			if !commentGroupHasCodable(typeSpec.Doc) && !commentGroupHasCodable(gen.Doc) {
				continue
			}
			if _, ok := typeSpec.Type.(*ast.StructType); !ok {
				pos := fset.Position(typeSpec.Pos())
				return nil, fmt.Errorf("codable requires struct type at %s", pos)
			}

			obj := info.Defs[typeSpec.Name]
			if obj == nil {
				pos := fset.Position(typeSpec.Pos())
				return nil, fmt.Errorf("missing type info for %s at %s", typeSpec.Name.Name, pos)
			}
			name, ok := obj.(*types.TypeName)
			if !ok {
				pos := fset.Position(typeSpec.Pos())
				return nil, fmt.Errorf("expected type name for %s at %s", typeSpec.Name.Name, pos)
			}

			ct, err := layout(name, pkg)
			if err != nil {
				pos := fset.Position(typeSpec.Pos())
				return nil, fmt.Errorf("%s at %s: %w", typeSpec.Name.Name, pos, err)
			}
			results = append(results, ct)
		}
	}

	return results, nil
}

func commentGroupHasCodable(group *ast.CommentGroup) bool {
	if group == nil {
		return false
	}
	for _, comment := range group.List {
		for _, line := range splitCommentLines(comment.Text) {
			if isCodableDirective(line) {
				return true
			}
		}
	}
	return false
}

func splitCommentLines(text string) []string {
	text = strings.TrimSpace(text)
	switch {
	case strings.HasPrefix(text, "//"):
		line := strings.TrimSpace(strings.TrimPrefix(text, "//"))
		return []string{line}
	case strings.HasPrefix(text, "/*"):
		body := strings.TrimSuffix(strings.TrimPrefix(text, "/*"), "*/")
		lines := strings.Split(body, "\n")
		for i, line := range lines {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "*") {
				line = strings.TrimSpace(strings.TrimPrefix(line, "*"))
			}
			lines[i] = line
		}
		return lines
	default:
		return []string{text}
	}
}

func isCodableDirective(line string) bool {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "go:generate") {
		return false
	}
	fields := strings.Fields(line)
	return len(fields) >= 2 && fields[1] == "codable"
}

// layout lists the fields of a fixed-size struct in declaration order.
// Only booleans, sized integers, floats and arrays of them are accepted.
func layout(name *types.TypeName, pkg *types.Package) (codableType, error) {
	st, ok := name.Type().Underlying().(*types.Struct)
	if !ok {
		return codableType{}, errors.New("not a struct")
	}
	qualifier := types.RelativeTo(pkg)
	ct := codableType{Name: name.Name()}
	for i := 0; i < st.NumFields(); i++ {
		f := st.Field(i)
		if !f.Exported() {
			continue
		}
		field := codableField{Name: f.Name(), Offset: ct.Size}
		t := f.Type()
		if arr, ok := t.Underlying().(*types.Array); ok {
			field.Len = int(arr.Len())
			t = arr.Elem()
		}
		basic, ok := t.Underlying().(*types.Basic)
		if !ok {
			return codableType{}, fmt.Errorf("field %s: unsupported type %s", f.Name(), t)
		}
		size := basicSize(basic.Kind())
		if size == 0 {
			return codableType{}, fmt.Errorf("field %s: %s has no fixed little-endian size", f.Name(), t)
		}
		field.Kind = basic.Kind()
		field.Type = types.TypeString(t, qualifier)
		count := 1
		if field.Len > 0 {
			count = field.Len
		}
		ct.Size += size * count
		ct.Fields = append(ct.Fields, field)
	}
	return ct, nil
}

func basicSize(kind types.BasicKind) int {
	switch kind {
	case types.Bool, types.Int8, types.Uint8:
		return 1
	case types.Int16, types.Uint16:
		return 2
	case types.Int32, types.Uint32, types.Float32:
		return 4
	case types.Int64, types.Uint64, types.Float64:
		return 8
	default:
		return 0
	}
}

func render(pkgName, errPkg string, list []codableType) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("// Code generated by codable; DO NOT EDIT.\n\n")
	fmt.Fprintf(&buf, "package %s\n\n", pkgName)

	imports := []string{errPkg}
	if needs(list, isMultiByte) {
		imports = append(imports, "encoding/binary")
	}
	if needs(list, isFloat) {
		imports = append(imports, "math")
	}
	buf.WriteString("import (\n")
	for _, imp := range imports {
		fmt.Fprintf(&buf, "\t%q\n", imp)
	}
	buf.WriteString(")\n\n")
	errIdent := errPkg[strings.LastIndex(errPkg, "/")+1:]

	for i, t := range list {
		if i > 0 {
			buf.WriteString("\n")
		}
		writeCodec(&buf, t, errIdent)
	}

	out, err := format.Source(buf.Bytes())
	if err != nil {
		return nil, err
	}
	return out, nil
}

func isMultiByte(kind types.BasicKind) bool {
	return basicSize(kind) > 1
}

func isFloat(kind types.BasicKind) bool {
	return kind == types.Float32 || kind == types.Float64
}

func needs(list []codableType, pred func(types.BasicKind) bool) bool {
	for _, t := range list {
		for _, f := range t.Fields {
			if pred(f.Kind) {
				return true
			}
		}
	}
	return false
}

func writeCodec(buf *bytes.Buffer, t codableType, errIdent string) {
	recv := receiverName(t.Name)
	fmt.Fprintf(buf, "// %sSize is the encoded size of %s.\n", t.Name, t.Name)
	fmt.Fprintf(buf, "const %sSize = %d\n\n", t.Name, t.Size)

	fmt.Fprintf(buf, "func (%s) EncodedSize() int {\n", t.Name)
	fmt.Fprintf(buf, "\treturn %sSize\n", t.Name)
	fmt.Fprintf(buf, "}\n\n")

	fmt.Fprintf(buf, "func (%s %s) AppendBinary(dst []byte) ([]byte, error) {\n", recv, t.Name)
	for _, f := range t.Fields {
		if f.Len > 0 {
			fmt.Fprintf(buf, "\tfor _, elem := range %s.%s {\n", recv, f.Name)
			fmt.Fprintf(buf, "\t\t%s\n", appendExpr(f.Kind, "elem"))
			fmt.Fprintf(buf, "\t}\n")
			continue
		}
		fmt.Fprintf(buf, "\t%s\n", appendExpr(f.Kind, recv+"."+f.Name))
	}
	fmt.Fprintf(buf, "\treturn dst, nil\n")
	fmt.Fprintf(buf, "}\n\n")

	fmt.Fprintf(buf, "func (%s *%s) UnmarshalBinary(src []byte) error {\n", recv, t.Name)
	fmt.Fprintf(buf, "\tif len(src) < %sSize {\n", t.Name)
	fmt.Fprintf(buf, "\t\treturn %s.ErrShortPayload\n", errIdent)
	fmt.Fprintf(buf, "\t}\n")
	for _, f := range t.Fields {
		size := basicSize(f.Kind)
		if f.Len > 0 {
			fmt.Fprintf(buf, "\tfor idx := range %s.%s {\n", recv, f.Name)
			fmt.Fprintf(buf, "\t\t%s.%s[idx] = %s\n", recv, f.Name, readExpr(f, fmt.Sprintf("%d+idx*%d", f.Offset, size)))
			fmt.Fprintf(buf, "\t}\n")
			continue
		}
		fmt.Fprintf(buf, "\t%s.%s = %s\n", recv, f.Name, readExpr(f, fmt.Sprint(f.Offset)))
	}
	fmt.Fprintf(buf, "\treturn nil\n")
	fmt.Fprintf(buf, "}\n")
}

func appendExpr(kind types.BasicKind, v string) string {
	switch kind {
	case types.Bool:
		return fmt.Sprintf("if %s {\n\t\tdst = append(dst, 1)\n\t} else {\n\t\tdst = append(dst, 0)\n\t}", v)
	case types.Int8, types.Uint8:
		return fmt.Sprintf("dst = append(dst, byte(%s))", v)
	case types.Int16, types.Uint16:
		return fmt.Sprintf("dst = binary.LittleEndian.AppendUint16(dst, uint16(%s))", v)
	case types.Int32, types.Uint32:
		return fmt.Sprintf("dst = binary.LittleEndian.AppendUint32(dst, uint32(%s))", v)
	case types.Float32:
		return fmt.Sprintf("dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(float32(%s)))", v)
	case types.Int64, types.Uint64:
		return fmt.Sprintf("dst = binary.LittleEndian.AppendUint64(dst, uint64(%s))", v)
	case types.Float64:
		return fmt.Sprintf("dst = binary.LittleEndian.AppendUint64(dst, math.Float64bits(float64(%s)))", v)
	}
	return ""
}

func readExpr(f codableField, off string) string {
	var raw string
	switch f.Kind {
	case types.Bool:
		return fmt.Sprintf("src[%s] != 0", off)
	case types.Int8, types.Uint8:
		raw = fmt.Sprintf("src[%s]", off)
	case types.Int16, types.Uint16:
		raw = fmt.Sprintf("binary.LittleEndian.Uint16(src[%s:])", off)
	case types.Int32, types.Uint32:
		raw = fmt.Sprintf("binary.LittleEndian.Uint32(src[%s:])", off)
	case types.Float32:
		raw = fmt.Sprintf("math.Float32frombits(binary.LittleEndian.Uint32(src[%s:]))", off)
	case types.Int64, types.Uint64:
		raw = fmt.Sprintf("binary.LittleEndian.Uint64(src[%s:])", off)
	case types.Float64:
		raw = fmt.Sprintf("math.Float64frombits(binary.LittleEndian.Uint64(src[%s:]))", off)
	}
	return fmt.Sprintf("%s(%s)", f.Type, raw)
}

func receiverName(typeName string) string {
	if typeName == "" {
		return "v"
	}
	r := strings.ToLower(typeName[:1])
	if len(r) == 0 {
		return "v"
	}
	if r[0] < 'a' || r[0] > 'z' {
		return "v"
	}
	return r
}
