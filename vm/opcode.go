package vm

// Opcodes. Operands are plain integers; their meaning per opcode is given
// next to it. t is a table reference, ws a workset number, var a variable
// number, ref an index into Program.Refs and label a code address.
const (
	// positioning
	OpSetFirst    = iota // A=t B=index      position before the first record
	OpSetLast            // A=t B=index      position after the last record
	OpReadNext           // A=t B=label      read forward, goto label at end
	OpReadPrev           // A=t B=label      read backward, goto label at start
	OpKeyInit            // A=t B=index      start a key for index
	OpKeyAppend          // A=t B=ref C=col  append ref converted to column col
	OpKeyLike            // A=t B=ref C=col  append the raw prefix held by ref
	OpKeyIncr            // A=t              binary increment of the key
	OpReadByKey          // A=t B=label      seek key and read, goto label if none
	OpReadByKeyRev       // A=t B=label      seek key backward and read
	OpReadPos            // A=t B=ref C=label read record at the position held by ref
	OpUnlock             // A=t              drop the record lock held on t
	OpClear              // A=t              blank the record buffer
	OpFPosToCol          // A=ref B=t        store the current position into ref

	// mutation
	OpWrite       // A=t
	OpUpdate      // A=t
	OpDelete      // A=t
	OpTableLock   // A=t B=scoped
	OpTableUnlock // A=t B=scoped

	// worksets
	OpWorkInit        // A=ws B=capacity hint
	OpWorkNewRow      // A=ws
	OpWorkFree        // A=ws
	OpWorkSetRowID    // A=ws B=var
	OpWorkGetRowID    // A=var B=ws
	OpWorkGetRowCount // A=var B=ws
	OpSortSpec        // A=ref B=desc C=reset
	OpWorkSort        // A=ws
	OpWorkUnique      // A=ws B=use sort spec

	// column operations
	OpColMove    // A=dst B=src
	OpColAdd     // A=dst B=x C=y
	OpColSub     // A=dst B=x C=y
	OpColMult    // A=dst B=x C=y
	OpColDiv     // A=dst B=x C=y
	OpColNegate  // A=dst B=x
	OpColConcat  // A=dst B=x C=y
	OpColUpper   // A=dst B=x
	OpColLower   // A=dst B=x
	OpColTrimL   // A=dst B=x
	OpColTrimT   // A=dst B=x
	OpColTrimB   // A=dst B=x
	OpColCast    // A=dst B=x
	OpColSubPos  // A=ref
	OpColSubLen  // A=ref
	OpColSubstr  // A=dst B=x
	OpColCompare // A=var B=x C=y
	OpColLike    // A=var B=value C=pattern
	OpColIsNull  // A=var B=ref
	OpColNull    // A=ref
	OpColBinIncr // A=ref
	OpMoveToCol  // A=dst B=var

	// control
	OpSet        // A=var B=constant
	OpIncr       // A=var B=delta
	OpMove       // A=dst var B=src var
	OpAdd        // A=var B=var C=var
	OpSub        // A=var B=var C=var
	OpGoto       // A=label
	OpGotoIfZero // A=var B=label
	OpGotoIfNotZero
	OpGotoIfPos
	OpGotoIfNeg
	OpCall      // A=label
	OpReturn    //
	OpFinish    // yield with the STATUS variable, the cursor stays alive
	OpTerminate // A=status, the cursor ends
	OpFail      // A=error code

	numOpcodes
)

type opInfo struct {
	name  string
	label int // operand holding a code address, -1 if none
}

var opTable = [numOpcodes]opInfo{
	OpSetFirst:        {"SETFIRST", -1},
	OpSetLast:         {"SETLAST", -1},
	OpReadNext:        {"READNEXT", 1},
	OpReadPrev:        {"READPREV", 1},
	OpKeyInit:         {"KEYINIT", -1},
	OpKeyAppend:       {"KEYAPPEND", -1},
	OpKeyLike:         {"KEYLIKE", -1},
	OpKeyIncr:         {"KEYINCR", -1},
	OpReadByKey:       {"READBYKEY", 1},
	OpReadByKeyRev:    {"READBYKEYREV", 1},
	OpReadPos:         {"READPOS", 2},
	OpUnlock:          {"UNLOCK", -1},
	OpClear:           {"CLEAR", -1},
	OpFPosToCol:       {"FPOSTOCOL", -1},
	OpWrite:           {"WRITE", -1},
	OpUpdate:          {"UPDATE", -1},
	OpDelete:          {"DELETE", -1},
	OpTableLock:       {"TABLELOCK", -1},
	OpTableUnlock:     {"TABLEUNLOCK", -1},
	OpWorkInit:        {"WORKINIT", -1},
	OpWorkNewRow:      {"WORKNEWROW", -1},
	OpWorkFree:        {"WORKFREE", -1},
	OpWorkSetRowID:    {"WORKSETROWID", -1},
	OpWorkGetRowID:    {"WORKGETROWID", -1},
	OpWorkGetRowCount: {"WORKGETROWCOUNT", -1},
	OpSortSpec:        {"SORTSPEC", -1},
	OpWorkSort:        {"WORKSORT", -1},
	OpWorkUnique:      {"WORKUNIQUE", -1},
	OpColMove:         {"COLMOVE", -1},
	OpColAdd:          {"COLADD", -1},
	OpColSub:          {"COLSUB", -1},
	OpColMult:         {"COLMULT", -1},
	OpColDiv:          {"COLDIV", -1},
	OpColNegate:       {"COLNEGATE", -1},
	OpColConcat:       {"COLCONCAT", -1},
	OpColUpper:        {"COLUPPER", -1},
	OpColLower:        {"COLLOWER", -1},
	OpColTrimL:        {"COLTRIML", -1},
	OpColTrimT:        {"COLTRIMT", -1},
	OpColTrimB:        {"COLTRIMB", -1},
	OpColCast:         {"COLCAST", -1},
	OpColSubPos:       {"COLSUBPOS", -1},
	OpColSubLen:       {"COLSUBLEN", -1},
	OpColSubstr:       {"COLSUBSTR", -1},
	OpColCompare:      {"COLCOMPARE", -1},
	OpColLike:         {"COLLIKE", -1},
	OpColIsNull:       {"COLISNULL", -1},
	OpColNull:         {"COLNULL", -1},
	OpColBinIncr:      {"COLBININCR", -1},
	OpMoveToCol:       {"MOVETOCOL", -1},
	OpSet:             {"SET", -1},
	OpIncr:            {"INCR", -1},
	OpMove:            {"MOVE", -1},
	OpAdd:             {"ADD", -1},
	OpSub:             {"SUB", -1},
	OpGoto:            {"GOTO", 0},
	OpGotoIfZero:      {"GOTOIFZERO", 1},
	OpGotoIfNotZero:   {"GOTOIFNOTZERO", 1},
	OpGotoIfPos:       {"GOTOIFPOS", 1},
	OpGotoIfNeg:       {"GOTOIFNEG", 1},
	OpCall:            {"CALL", 0},
	OpReturn:          {"RETURN", -1},
	OpFinish:          {"FINISH", -1},
	OpTerminate:       {"TERMINATE", -1},
	OpFail:            {"FAIL", -1},
}

func OpName(op int) string {
	if op >= 0 && op < int(numOpcodes) {
		return opTable[op].name
	}
	return "???"
}

// LabelOperand is the operand of op that holds a code address, -1 if none.
func LabelOperand(op int) int {
	if op >= 0 && op < int(numOpcodes) {
		return opTable[op].label
	}
	return -1
}

// Instr is one instruction.
type Instr struct {
	Op int
	A  int
	B  int
	C  int
}

// Operand returns operand i, 0 for A.
func (self *Instr) Operand(i int) int {
	switch i {
	case 0:
		return self.A
	case 1:
		return self.B
	default:
		return self.C
	}
}

func (self *Instr) SetOperand(i int, v int) {
	switch i {
	case 0:
		self.A = v
		break
	case 1:
		self.B = v
		break
	default:
		self.C = v
		break
	}
}
