//go:build gpu

package gpu

// WGSL sources for the compute kernels. Every kernel mirrors the CPU
// backend's math exactly; intrinsics/extrinsics arrive pre-converted to f32
// through the uniform block. Buffers the shader declares but a call does
// not use (color paths) are bound to one-element dummies.

const unprojectWGSL = `
struct U {
    width: u32,
    height: u32,
    stride: u32,
    has_colors: u32,
    fx: f32, fy: f32, cx: f32, cy: f32,
    scale: f32, max_depth: f32,
    r00: f32, r01: f32, r02: f32,
    r10: f32, r11: f32, r12: f32,
    r20: f32, r21: f32, r22: f32,
    t0: f32, t1: f32, t2: f32,
}

@group(0) @binding(0) var<uniform> u: U;
@group(0) @binding(1) var<storage, read> depth: array<f32>;
@group(0) @binding(2) var<storage, read> image_colors: array<f32>;
@group(0) @binding(3) var<storage, read_write> points: array<f32>;
@group(0) @binding(4) var<storage, read_write> colors: array<f32>;
@group(0) @binding(5) var<storage, read_write> counter: atomic<u32>;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    let scols = (u.width + u.stride - 1u) / u.stride;
    let srows = (u.height + u.stride - 1u) / u.stride;
    if (gid.x >= scols * srows) {
        return;
    }
    let px = (gid.x % scols) * u.stride;
    let py = (gid.x / scols) * u.stride;
    let pix = py * u.width + px;
    let d = depth[pix] / u.scale;
    if (d <= 0.0 || d > u.max_depth) {
        return;
    }
    let camx = (f32(px) - u.cx) * d / u.fx;
    let camy = (f32(py) - u.cy) * d / u.fy;
    // camera -> world: transpose(R) * (p - t)
    let qx = camx - u.t0;
    let qy = camy - u.t1;
    let qz = d - u.t2;
    let wx = u.r00 * qx + u.r10 * qy + u.r20 * qz;
    let wy = u.r01 * qx + u.r11 * qy + u.r21 * qz;
    let wz = u.r02 * qx + u.r12 * qy + u.r22 * qz;
    let row = atomicAdd(&counter, 1u);
    points[row * 3u] = wx;
    points[row * 3u + 1u] = wy;
    points[row * 3u + 2u] = wz;
    if (u.has_colors == 1u) {
        colors[row * 3u] = image_colors[pix * 3u];
        colors[row * 3u + 1u] = image_colors[pix * 3u + 1u];
        colors[row * 3u + 2u] = image_colors[pix * 3u + 2u];
    }
}
`

const projectDepthWGSL = `
struct U {
    width: u32,
    height: u32,
    npoints: u32,
    has_colors: u32,
    fx: f32, fy: f32, cx: f32, cy: f32,
    scale: f32, max_depth: f32,
    r00: f32, r01: f32, r02: f32,
    r10: f32, r11: f32, r12: f32,
    r20: f32, r21: f32, r22: f32,
    t0: f32, t1: f32, t2: f32,
}

@group(0) @binding(0) var<uniform> u: U;
@group(0) @binding(1) var<storage, read> points: array<f32>;
@group(0) @binding(2) var<storage, read_write> depth_bits: array<atomic<u32>>;

// Positive IEEE floats order the same as their bit patterns, so an atomic
// u32 minimum on the bits is an atomic depth minimum. Empty pixels hold the
// max-finite sentinel installed at upload.
@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    if (gid.x >= u.npoints) {
        return;
    }
    let i = gid.x * 3u;
    let x = points[i];
    let y = points[i + 1u];
    let z = points[i + 2u];
    let camx = u.r00 * x + u.r01 * y + u.r02 * z + u.t0;
    let camy = u.r10 * x + u.r11 * y + u.r12 * z + u.t1;
    let camz = u.r20 * x + u.r21 * y + u.r22 * z + u.t2;
    if (camz <= 0.0 || camz > u.max_depth) {
        return;
    }
    let px = i32(round(u.fx * camx / camz + u.cx));
    let py = i32(round(u.fy * camy / camz + u.cy));
    if (px < 0 || px >= i32(u.width) || py < 0 || py >= i32(u.height)) {
        return;
    }
    let idx = u32(py) * u.width + u32(px);
    atomicMin(&depth_bits[idx], bitcast<u32>(camz * u.scale));
}
`

const projectColorWGSL = `
struct U {
    width: u32,
    height: u32,
    npoints: u32,
    has_colors: u32,
    fx: f32, fy: f32, cx: f32, cy: f32,
    scale: f32, max_depth: f32,
    r00: f32, r01: f32, r02: f32,
    r10: f32, r11: f32, r12: f32,
    r20: f32, r21: f32, r22: f32,
    t0: f32, t1: f32, t2: f32,
}

@group(0) @binding(0) var<uniform> u: U;
@group(0) @binding(1) var<storage, read> points: array<f32>;
@group(0) @binding(2) var<storage, read> depth_bits: array<u32>;
@group(0) @binding(3) var<storage, read> point_colors: array<f32>;
@group(0) @binding(4) var<storage, read_write> image_colors: array<f32>;

// Second pass: a point writes its color only when it owns the pixel's final
// depth. Ties write identical depth; either color is acceptable.
@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    if (gid.x >= u.npoints) {
        return;
    }
    let i = gid.x * 3u;
    let x = points[i];
    let y = points[i + 1u];
    let z = points[i + 2u];
    let camx = u.r00 * x + u.r01 * y + u.r02 * z + u.t0;
    let camy = u.r10 * x + u.r11 * y + u.r12 * z + u.t1;
    let camz = u.r20 * x + u.r21 * y + u.r22 * z + u.t2;
    if (camz <= 0.0 || camz > u.max_depth) {
        return;
    }
    let px = i32(round(u.fx * camx / camz + u.cx));
    let py = i32(round(u.fy * camy / camz + u.cy));
    if (px < 0 || px >= i32(u.width) || py < 0 || py >= i32(u.height)) {
        return;
    }
    let idx = u32(py) * u.width + u32(px);
    if (depth_bits[idx] == bitcast<u32>(camz * u.scale)) {
        image_colors[idx * 3u] = point_colors[i];
        image_colors[idx * 3u + 1u] = point_colors[i + 1u];
        image_colors[idx * 3u + 2u] = point_colors[i + 2u];
    }
}
`

const transformWGSL = `
struct U {
    npoints: u32,
    has_normals: u32,
    pad0: u32,
    pad1: u32,
    m00: f32, m01: f32, m02: f32, m03: f32,
    m10: f32, m11: f32, m12: f32, m13: f32,
    m20: f32, m21: f32, m22: f32, m23: f32,
    m30: f32, m31: f32, m32: f32, m33: f32,
}

@group(0) @binding(0) var<uniform> u: U;
@group(0) @binding(1) var<storage, read_write> points: array<f32>;
@group(0) @binding(2) var<storage, read_write> normals: array<f32>;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    if (gid.x >= u.npoints) {
        return;
    }
    let i = gid.x * 3u;
    let x = points[i];
    let y = points[i + 1u];
    let z = points[i + 2u];
    points[i] = u.m00 * x + u.m01 * y + u.m02 * z + u.m03;
    points[i + 1u] = u.m10 * x + u.m11 * y + u.m12 * z + u.m13;
    points[i + 2u] = u.m20 * x + u.m21 * y + u.m22 * z + u.m23;
    if (u.has_normals == 1u) {
        let nx = normals[i];
        let ny = normals[i + 1u];
        let nz = normals[i + 2u];
        normals[i] = u.m00 * nx + u.m01 * ny + u.m02 * nz;
        normals[i + 1u] = u.m10 * nx + u.m11 * ny + u.m12 * nz;
        normals[i + 2u] = u.m20 * nx + u.m21 * ny + u.m22 * nz;
    }
}
`

const vertexMapWGSL = `
struct U {
    width: u32,
    height: u32,
    pad0: u32,
    pad1: u32,
    fx: f32, fy: f32, cx: f32, cy: f32,
    scale: f32, max_depth: f32,
}

@group(0) @binding(0) var<uniform> u: U;
@group(0) @binding(1) var<storage, read> depth: array<f32>;
@group(0) @binding(2) var<storage, read_write> vertex_map: array<f32>;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    if (gid.x >= u.width * u.height) {
        return;
    }
    let pix = gid.x;
    let d = depth[pix] / u.scale;
    if (d <= 0.0 || d > u.max_depth) {
        vertex_map[pix * 3u] = 0.0;
        vertex_map[pix * 3u + 1u] = 0.0;
        vertex_map[pix * 3u + 2u] = 0.0;
        return;
    }
    let px = f32(pix % u.width);
    let py = f32(pix / u.width);
    vertex_map[pix * 3u] = (px - u.cx) * d / u.fx;
    vertex_map[pix * 3u + 1u] = (py - u.cy) * d / u.fy;
    vertex_map[pix * 3u + 2u] = d;
}
`

const normalMapWGSL = `
struct U {
    width: u32,
    height: u32,
    pad0: u32,
    pad1: u32,
    depth_diff: f32,
}

@group(0) @binding(0) var<uniform> u: U;
@group(0) @binding(1) var<storage, read> vertex_map: array<f32>;
@group(0) @binding(2) var<storage, read_write> normal_map: array<f32>;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    if (gid.x >= u.width * u.height) {
        return;
    }
    let pix = gid.x;
    let px = pix % u.width;
    let py = pix / u.width;
    normal_map[pix * 3u] = 0.0;
    normal_map[pix * 3u + 1u] = 0.0;
    normal_map[pix * 3u + 2u] = 0.0;
    if (px + 1u >= u.width || py + 1u >= u.height) {
        return;
    }
    let i00 = pix * 3u;
    let i01 = (pix + 1u) * 3u;
    let i10 = (pix + u.width) * 3u;
    let z00 = vertex_map[i00 + 2u];
    let z01 = vertex_map[i01 + 2u];
    let z10 = vertex_map[i10 + 2u];
    if (z00 <= 0.0 || z01 <= 0.0 || z10 <= 0.0) {
        return;
    }
    if (abs(z01 - z00) > u.depth_diff || abs(z10 - z00) > u.depth_diff) {
        return;
    }
    let du = vec3<f32>(vertex_map[i01] - vertex_map[i00], vertex_map[i01 + 1u] - vertex_map[i00 + 1u], z01 - z00);
    let dv = vec3<f32>(vertex_map[i10] - vertex_map[i00], vertex_map[i10 + 1u] - vertex_map[i00 + 1u], z10 - z00);
    let n = cross(dv, du);
    let len = length(n);
    if (len == 0.0) {
        return;
    }
    normal_map[i00] = n.x / len;
    normal_map[i00 + 1u] = n.y / len;
    normal_map[i00 + 2u] = n.z / len;
}
`
